// Package memory is a sync.Mutex-guarded, in-process persistence.Repository
// used by unit tests and local development, mirroring the shape of the
// pack's chat_store_memory.go in-memory double.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

type Store struct {
	mu sync.Mutex

	orgs      map[string]domain.Organization
	users     map[string]domain.User
	chats     map[string]domain.Chat
	messages  map[string][]domain.Message
	prompts   map[string]*domain.Prompt // keyed by id
	summaries map[string][]domain.Summary
	documents map[string]domain.Document
	chunks    map[string][]domain.DocumentChunk
}

// New returns an empty Store. Seed* helpers below populate fixtures.
func New() *Store {
	return &Store{
		orgs:      map[string]domain.Organization{},
		users:     map[string]domain.User{},
		chats:     map[string]domain.Chat{},
		messages:  map[string][]domain.Message{},
		prompts:   map[string]*domain.Prompt{},
		summaries: map[string][]domain.Summary{},
		documents: map[string]domain.Document{},
		chunks:    map[string][]domain.DocumentChunk{},
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error   { return nil }

// SeedOrganization and SeedUser let tests populate fixtures without going
// through a creation API the spec doesn't define (orgs/users are
// provisioned externally per spec.md §3).
func (s *Store) SeedOrganization(o domain.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.ID] = o
}

func (s *Store) SeedUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok || o.Deleted() {
		return domain.Organization{}, persistence.ErrNotFound
	}
	return o, nil
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orgs {
		if o.Slug == slug && !o.Deleted() {
			return o, nil
		}
	}
	return domain.Organization{}, persistence.ErrNotFound
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, persistence.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserInOrg(ctx context.Context, orgID, userID string) (domain.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.OrgID != orgID {
		return domain.User{}, persistence.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateChat(ctx context.Context, orgID, userID, title string) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := domain.Chat{ID: uuid.NewString(), OrgID: orgID, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.chats[c.ID] = c
	s.messages[c.ID] = nil
	return c, nil
}

func (s *Store) GetChat(ctx context.Context, orgID, id string) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.OrgID != orgID || c.Deleted() {
		return domain.Chat{}, persistence.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, orgID, userID string) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.OrgID == orgID && c.UserID == userID && !c.Deleted() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UpdateChatTitle(ctx context.Context, orgID, id, title string) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.OrgID != orgID || c.Deleted() {
		return domain.Chat{}, persistence.ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.chats[id] = c
	return c, nil
}

func (s *Store) DeleteChat(ctx context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.OrgID != orgID || c.Deleted() {
		return persistence.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	s.chats[id] = c
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, orgID string, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[msg.ChatID]
	if !ok || c.OrgID != orgID {
		return domain.Message{}, persistence.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	c.UpdatedAt = msg.CreatedAt
	s.chats[msg.ChatID] = c
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, orgID, chatID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.OrgID != orgID {
		return nil, persistence.ErrNotFound
	}
	msgs := s.messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) GetActivePrompt(ctx context.Context, name string) (domain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if p.Name == name && p.Active {
			return *p, nil
		}
	}
	return domain.Prompt{}, persistence.ErrNotFound
}

func (s *Store) GetPromptVersion(ctx context.Context, name string, version int) (domain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if p.Name == name && p.Version == version {
			return *p, nil
		}
	}
	return domain.Prompt{}, persistence.ErrNotFound
}

func (s *Store) ListPromptVersions(ctx context.Context, name string) ([]domain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Prompt
	for _, p := range s.prompts {
		if p.Name == name {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *Store) CreatePrompt(ctx context.Context, p domain.Prompt) (domain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxVersion := 0
	for _, existing := range s.prompts {
		if existing.Name == p.Name && existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}
	p.Version = maxVersion + 1
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	if p.Active {
		for _, existing := range s.prompts {
			if existing.Name == p.Name {
				existing.Active = false
			}
		}
	}
	cp := p
	s.prompts[p.ID] = &cp
	return p, nil
}

func (s *Store) ActivatePrompt(ctx context.Context, name string, version int) (domain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *domain.Prompt
	for _, p := range s.prompts {
		if p.Name == name && p.Version == version {
			target = p
		}
	}
	if target == nil {
		return domain.Prompt{}, persistence.ErrNotFound
	}
	for _, p := range s.prompts {
		if p.Name == name {
			p.Active = false
		}
	}
	target.Active = true
	return *target, nil
}

func (s *Store) UpdatePromptStats(ctx context.Context, id string, totalTokens int, latencyMS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return persistence.ErrNotFound
	}
	p.Stats.Update(totalTokens, latencyMS)
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, orgID, chatID string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.OrgID != orgID {
		return domain.Summary{}, persistence.ErrNotFound
	}
	list := s.summaries[chatID]
	if len(list) == 0 {
		return domain.Summary{}, persistence.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *Store) CreateSummary(ctx context.Context, orgID string, sm domain.Summary) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[sm.ChatID]
	if !ok || c.OrgID != orgID {
		return domain.Summary{}, persistence.ErrNotFound
	}
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	sm.CreatedAt = time.Now().UTC()
	if sm.OriginalTokens > 0 {
		st := sm.SummaryTokens
		if st == 0 {
			st = 1
		}
		sm.CompressionRatio = float64(sm.OriginalTokens) / float64(st)
	}
	s.summaries[sm.ChatID] = append(s.summaries[sm.ChatID], sm)
	return sm, nil
}

func (s *Store) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.State == "" {
		d.State = domain.DocumentUploaded
	}
	s.documents[d.ID] = d
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, orgID, id string) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.OrgID != orgID {
		return domain.Document{}, persistence.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, orgID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, d := range s.documents {
		if d.OrgID == orgID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDocumentState(ctx context.Context, orgID, id string, state domain.DocumentState, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.OrgID != orgID {
		return persistence.ErrNotFound
	}
	d.State = state
	d.FailureReason = failureReason
	d.UpdatedAt = time.Now().UTC()
	s.documents[id] = d
	return nil
}

func (s *Store) MarkParsed(ctx context.Context, orgID, id string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.OrgID != orgID {
		return persistence.ErrNotFound
	}
	now := time.Now().UTC()
	d.State = domain.DocumentParsed
	d.PageCount = pageCount
	d.ParsedAt = &now
	d.UpdatedAt = now
	s.documents[id] = d
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.OrgID != orgID {
		return persistence.ErrNotFound
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocumentID
	existing := s.chunks[docID]
	byIndex := make(map[int]domain.DocumentChunk, len(existing))
	for _, c := range existing {
		byIndex[c.ChunkIndex] = c
	}
	for _, c := range chunks {
		if prior, ok := byIndex[c.ChunkIndex]; ok {
			// Mirror the Postgres store's ON CONFLICT (document_id,
			// chunk_index) DO UPDATE: the id is never replaced by a retry.
			c.ID = prior.ID
		} else if c.ID == "" {
			c.ID = uuid.NewString()
		}
		byIndex[c.ChunkIndex] = c
	}
	merged := make([]domain.DocumentChunk, 0, len(byIndex))
	for _, c := range byIndex {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ChunkIndex < merged[j].ChunkIndex })
	s.chunks[docID] = merged
	return nil
}

func (s *Store) ListChunks(ctx context.Context, orgID, documentID string) ([]domain.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.OrgID != orgID {
		return nil, persistence.ErrNotFound
	}
	out := make([]domain.DocumentChunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	return out, nil
}

var _ persistence.Repository = (*Store)(nil)
