// Package persistence defines the typed, tenant-scoped repository contract
// (spec.md §4.A). Every method that can leak cross-tenant data takes an
// orgID and filters in the query, never in application code; a row that
// belongs to a different organization than the one requested is reported as
// ErrNotFound, never ErrForbidden, so cross-tenant probing cannot
// distinguish "doesn't exist" from "not yours".
//
// Two backends implement Repository: postgres (github.com/jackc/pgx/v5,
// schema-managed with golang-migrate) and memory (sync.Mutex-guarded maps,
// for unit tests and local development).
package persistence

import (
	"context"
	"errors"

	"github.com/kestrel-ai/chatplane/internal/domain"
)

var (
	// ErrNotFound is returned for a missing row or a row owned by a
	// different tenant than the one requested.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConflict is returned by the postgres backend when a new prompt's
	// (name, version) collides with an existing row. No other operation or
	// backend returns it.
	ErrConflict = errors.New("persistence: conflict")
)

// Repository bundles every entity's persistence operations. Handlers and
// services depend on this interface, not on a concrete backend, so tests can
// substitute the memory implementation.
type Repository interface {
	Organizations
	Users
	Chats
	Messages
	Prompts
	Summaries
	Documents

	// Close releases pooled connections/clients. Safe to call once during
	// shutdown.
	Close(ctx context.Context) error
	// Ping reports whether the backing store is reachable, for health
	// probes.
	Ping(ctx context.Context) error
}

type Organizations interface {
	GetOrganization(ctx context.Context, id string) (domain.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (domain.Organization, error)
}

type Users interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	// GetUserInOrg returns ErrNotFound if the user exists but belongs to a
	// different organization than orgID.
	GetUserInOrg(ctx context.Context, orgID, userID string) (domain.User, error)
}

type Chats interface {
	CreateChat(ctx context.Context, orgID, userID, title string) (domain.Chat, error)
	// GetChat returns ErrNotFound if id doesn't exist or belongs to a
	// different organization than orgID.
	GetChat(ctx context.Context, orgID, id string) (domain.Chat, error)
	ListChats(ctx context.Context, orgID, userID string) ([]domain.Chat, error)
	UpdateChatTitle(ctx context.Context, orgID, id, title string) (domain.Chat, error)
	DeleteChat(ctx context.Context, orgID, id string) error
}

type Messages interface {
	// AppendMessage assigns an id and CreatedAt if unset and inserts a
	// single row. Messages are append-only; there is no update method.
	AppendMessage(ctx context.Context, orgID string, msg domain.Message) (domain.Message, error)
	// ListMessages returns messages in chat order (oldest first). If
	// limit > 0, only the most recent limit messages are returned, still
	// in chronological order.
	ListMessages(ctx context.Context, orgID, chatID string, limit int) ([]domain.Message, error)
}

type Prompts interface {
	GetActivePrompt(ctx context.Context, name string) (domain.Prompt, error)
	GetPromptVersion(ctx context.Context, name string, version int) (domain.Prompt, error)
	ListPromptVersions(ctx context.Context, name string) ([]domain.Prompt, error)
	CreatePrompt(ctx context.Context, p domain.Prompt) (domain.Prompt, error)
	// ActivatePrompt atomically clears the active bit for every version of
	// name and sets it on version v. Fails with ErrNotFound if v doesn't
	// exist.
	ActivatePrompt(ctx context.Context, name string, version int) (domain.Prompt, error)
	// UpdatePromptStats folds one more observation into the prompt's
	// running usage statistics (Welford's online mean).
	UpdatePromptStats(ctx context.Context, id string, totalTokens int, latencyMS float64) error
}

type Summaries interface {
	// LatestSummary returns the most recent Summary for chatID, or
	// ErrNotFound if none exists yet.
	LatestSummary(ctx context.Context, orgID, chatID string) (domain.Summary, error)
	CreateSummary(ctx context.Context, orgID string, s domain.Summary) (domain.Summary, error)
}

type Documents interface {
	CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error)
	GetDocument(ctx context.Context, orgID, id string) (domain.Document, error)
	ListDocuments(ctx context.Context, orgID string) ([]domain.Document, error)
	UpdateDocumentState(ctx context.Context, orgID, id string, state domain.DocumentState, failureReason string) error
	// MarkParsed transitions the document to parsed, recording pageCount
	// and the parse timestamp in one update.
	MarkParsed(ctx context.Context, orgID, id string, pageCount int) error
	DeleteDocument(ctx context.Context, orgID, id string) error

	// InsertChunks bulk-inserts chunks in a single atomic operation. Safe
	// to retry: conflicts on (document_id, chunk_index) are upserts, so
	// re-running the parse job produces the same chunk set.
	InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error
	ListChunks(ctx context.Context, orgID, documentID string) ([]domain.DocumentChunk, error)
}
