// Package domain holds the entities shared across persistence, the chat
// pipeline, and the HTTP layer. Types here carry no behavior beyond small
// invariants (role ordering, soft-delete checks) that every caller needs.
package domain

import "time"

// Role is a user's privilege level within its organization. Ordering is
// owner >= admin >= member; higher values outrank lower ones.
type Role int

const (
	RoleMember Role = iota
	RoleAdmin
	RoleOwner
)

// ParseRole maps a stored/transmitted role string to a Role. Unknown values
// default to RoleMember, the least-privileged role.
func ParseRole(s string) Role {
	switch s {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	default:
		return RoleMember
	}
}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	default:
		return "member"
	}
}

// AtLeast reports whether r outranks or equals other.
func (r Role) AtLeast(other Role) bool { return r >= other }

// Organization is the tenant boundary. All other entities are rooted here.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	Attrs     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (o Organization) Deleted() bool { return o.DeletedAt != nil }

// User belongs to exactly one Organization.
type User struct {
	ID          string
	OrgID       string
	Email       string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MessageRole identifies who produced a Message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Chat is a conversation owned by an org and a user.
type Chat struct {
	ID        string
	OrgID     string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (c Chat) Deleted() bool { return c.DeletedAt != nil }

// Message is one turn within a Chat. TokenCount is nil for historical rows
// recorded before token accounting existed.
type Message struct {
	ID         string
	ChatID     string
	Role       MessageRole
	Content    string
	TokenCount *int
	Attrs      map[string]string
	CreatedAt  time.Time
}

// Prompt is a named, versioned system instruction. Unique on (Name, Version).
type Prompt struct {
	ID        string
	Name      string
	Version   int
	Content   string
	CreatedBy string
	Active    bool
	Metadata  map[string]string
	Stats     PromptStats
	CreatedAt time.Time
}

// PromptStats are running usage statistics updated via Welford's online
// mean so no per-call history needs to be retained.
type PromptStats struct {
	InvocationCount int64
	MeanTokens      float64
	MeanLatencyMS   float64
}

// Update folds one more observation into the running means.
func (s *PromptStats) Update(totalTokens int, latencyMS float64) {
	s.InvocationCount++
	n := float64(s.InvocationCount)
	s.MeanTokens += (float64(totalTokens) - s.MeanTokens) / n
	s.MeanLatencyMS += (latencyMS - s.MeanLatencyMS) / n
}

// Summary is a distilled form of a contiguous message range, produced by the
// memory engine. The latest summary per chat is what the memory engine
// consumes when assembling a bounded context window.
type Summary struct {
	ID               string
	ChatID           string
	Text             string
	StartMessageID   string
	EndMessageID     string
	MessageCount     int
	OriginalTokens   int
	SummaryTokens    int
	CompressionRatio float64
	CreatedAt        time.Time
}

// DocumentState is a Document's position in the ingestion lifecycle.
type DocumentState string

const (
	DocumentUploaded   DocumentState = "uploaded"
	DocumentProcessing DocumentState = "processing"
	DocumentParsed     DocumentState = "parsed"
	DocumentFailed     DocumentState = "failed"
)

// Document is an uploaded file owned by an org and user.
type Document struct {
	ID            string
	OrgID         string
	UserID        string
	Filename      string
	ContentType   string
	SizeBytes     int64
	StoragePath   string
	State         DocumentState
	FailureReason string
	PageCount     int
	ParsedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentChunk is a fragment of parsed text, ordered within its document.
// Unique on (DocumentID, ChunkIndex).
type DocumentChunk struct {
	ID           string
	DocumentID   string
	OrgID        string
	ChunkIndex   int
	Content      string
	CharCount    int
	TokenCount   *int
	CreatedAt    time.Time
}
