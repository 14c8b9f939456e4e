// Package postgres is the pgx-backed persistence.Repository implementation.
// Schema is managed by embedded golang-migrate migrations (adopted from the
// pack's tarsy member, which already pins golang-migrate for Postgres schema
// management); queries run over a pooled pgxpool.Pool tuned for a
// request-serving workload.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against dsn, applies embedded migrations, and returns a
// ready-to-use Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := runMigrations(dsn, "chatplane"); err != nil {
		return nil, err
	}
	pool, err := openPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}

// --- Organizations ---

func (s *Store) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	return s.scanOrg(s.pool.QueryRow(ctx, `
SELECT id, name, slug, attrs, created_at, updated_at, deleted_at
FROM organizations WHERE id=$1 AND deleted_at IS NULL`, id))
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (domain.Organization, error) {
	return s.scanOrg(s.pool.QueryRow(ctx, `
SELECT id, name, slug, attrs, created_at, updated_at, deleted_at
FROM organizations WHERE slug=$1 AND deleted_at IS NULL`, slug))
}

func (s *Store) scanOrg(row pgx.Row) (domain.Organization, error) {
	var o domain.Organization
	var attrs []byte
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &attrs, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
		return domain.Organization{}, notFound(err)
	}
	o.Attrs = decodeAttrs(attrs)
	return o, nil
}

// --- Users ---

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
SELECT id, org_id, email, display_name, role, created_at, updated_at
FROM users WHERE id=$1`, id))
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

func (s *Store) scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, notFound(err)
	}
	u.Role = domain.ParseRole(role)
	return u, nil
}

// --- Chats ---

func (s *Store) CreateChat(ctx context.Context, orgID, userID, title string) (domain.Chat, error) {
	id := newID()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO chats (id, org_id, user_id, title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`, id, orgID, userID, title, now)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return domain.Chat{ID: id, OrgID: orgID, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetChat(ctx context.Context, orgID, id string) (domain.Chat, error) {
	return s.scanChat(s.pool.QueryRow(ctx, `
SELECT id, org_id, user_id, title, created_at, updated_at, deleted_at
FROM chats WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL`, id, orgID))
}

func (s *Store) ListChats(ctx context.Context, orgID, userID string) ([]domain.Chat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, org_id, user_id, title, created_at, updated_at, deleted_at
FROM chats WHERE org_id=$1 AND user_id=$2 AND deleted_at IS NULL
ORDER BY updated_at DESC`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	var out []domain.Chat
	for rows.Next() {
		c, err := s.scanChatRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChatTitle(ctx context.Context, orgID, id, title string) (domain.Chat, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE chats SET title=$1, updated_at=now() WHERE id=$2 AND org_id=$3 AND deleted_at IS NULL`, title, id, orgID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Chat{}, persistence.ErrNotFound
	}
	return s.GetChat(ctx, orgID, id)
}

func (s *Store) DeleteChat(ctx context.Context, orgID, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE chats SET deleted_at=now() WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) scanChat(row pgx.Row) (domain.Chat, error) {
	var c domain.Chat
	if err := row.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		return domain.Chat{}, notFound(err)
	}
	return c, nil
}

func (s *Store) scanChatRow(rows pgx.Rows) (domain.Chat, error) {
	var c domain.Chat
	if err := rows.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		return domain.Chat{}, err
	}
	return c, nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, orgID string, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	attrs, err := json.Marshal(nonNilMap(msg.Attrs))
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal attrs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO messages (id, chat_id, role, content, token_count, attrs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, msg.TokenCount, attrs, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	_, _ = s.pool.Exec(ctx, `UPDATE chats SET updated_at=$1 WHERE id=$2 AND org_id=$3`, msg.CreatedAt, msg.ChatID, orgID)
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, orgID, chatID string, limit int) ([]domain.Message, error) {
	// Confirm the chat belongs to orgID before returning any rows, so a
	// cross-tenant chat id yields ErrNotFound rather than an empty slice
	// that might be mistaken for "chat has no messages yet".
	if _, err := s.GetChat(ctx, orgID, chatID); err != nil {
		return nil, err
	}
	query := `SELECT id, chat_id, role, content, token_count, attrs, created_at
FROM messages WHERE chat_id=$1 ORDER BY created_at ASC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
SELECT id, chat_id, role, content, token_count, attrs, created_at FROM (
  SELECT id, chat_id, role, content, token_count, attrs, created_at
  FROM messages WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2
) recent ORDER BY created_at ASC`, chatID, limit)
	} else {
		rows, err = s.pool.Query(ctx, query, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var attrs []byte
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.TokenCount, &attrs, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		m.Attrs = decodeAttrs(attrs)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Prompts ---

func (s *Store) GetActivePrompt(ctx context.Context, name string) (domain.Prompt, error) {
	return s.scanPrompt(s.pool.QueryRow(ctx, `
SELECT id, name, version, content, created_by, active, metadata,
       invocation_count, mean_tokens, mean_latency_ms, created_at
FROM prompts WHERE name=$1 AND active`, name))
}

func (s *Store) GetPromptVersion(ctx context.Context, name string, version int) (domain.Prompt, error) {
	return s.scanPrompt(s.pool.QueryRow(ctx, `
SELECT id, name, version, content, created_by, active, metadata,
       invocation_count, mean_tokens, mean_latency_ms, created_at
FROM prompts WHERE name=$1 AND version=$2`, name, version))
}

func (s *Store) ListPromptVersions(ctx context.Context, name string) ([]domain.Prompt, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, version, content, created_by, active, metadata,
       invocation_count, mean_tokens, mean_latency_ms, created_at
FROM prompts WHERE name=$1 ORDER BY version DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("list prompt versions: %w", err)
	}
	defer rows.Close()
	var out []domain.Prompt
	for rows.Next() {
		p, err := scanPromptRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePrompt(ctx context.Context, p domain.Prompt) (domain.Prompt, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Prompt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var nextVersion int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM prompts WHERE name=$1`, p.Name).Scan(&nextVersion); err != nil {
		return domain.Prompt{}, fmt.Errorf("compute next version: %w", err)
	}
	p.Version = nextVersion
	meta, err := json.Marshal(nonNilMap(p.Metadata))
	if err != nil {
		return domain.Prompt{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if p.Active {
		if _, err := tx.Exec(ctx, `UPDATE prompts SET active=false WHERE name=$1`, p.Name); err != nil {
			return domain.Prompt{}, fmt.Errorf("clear active: %w", err)
		}
	}
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
INSERT INTO prompts (id, name, version, content, created_by, active, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Version, p.Content, p.CreatedBy, p.Active, meta, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Prompt{}, persistence.ErrConflict
		}
		return domain.Prompt{}, fmt.Errorf("insert prompt: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Prompt{}, fmt.Errorf("commit: %w", err)
	}
	p.CreatedAt = now
	return p, nil
}

func (s *Store) ActivatePrompt(ctx context.Context, name string, version int) (domain.Prompt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Prompt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE prompts SET active=(version=$2) WHERE name=$1`, name, version)
	if err != nil {
		return domain.Prompt{}, fmt.Errorf("activate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Prompt{}, persistence.ErrNotFound
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM prompts WHERE name=$1 AND version=$2)`, name, version).Scan(&exists); err != nil {
		return domain.Prompt{}, fmt.Errorf("verify version: %w", err)
	}
	if !exists {
		return domain.Prompt{}, persistence.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Prompt{}, fmt.Errorf("commit: %w", err)
	}
	return s.GetPromptVersion(ctx, name, version)
}

func (s *Store) UpdatePromptStats(ctx context.Context, id string, totalTokens int, latencyMS float64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE prompts SET
  invocation_count = invocation_count + 1,
  mean_tokens = mean_tokens + (($2::double precision - mean_tokens) / (invocation_count + 1)),
  mean_latency_ms = mean_latency_ms + (($3::double precision - mean_latency_ms) / (invocation_count + 1))
WHERE id=$1`, id, float64(totalTokens), latencyMS)
	if err != nil {
		return fmt.Errorf("update prompt stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) scanPrompt(row pgx.Row) (domain.Prompt, error) {
	var p domain.Prompt
	var meta []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Content, &p.CreatedBy, &p.Active, &meta,
		&p.Stats.InvocationCount, &p.Stats.MeanTokens, &p.Stats.MeanLatencyMS, &p.CreatedAt); err != nil {
		return domain.Prompt{}, notFound(err)
	}
	p.Metadata = decodeAttrs(meta)
	return p, nil
}

func scanPromptRow(rows pgx.Rows) (domain.Prompt, error) {
	var p domain.Prompt
	var meta []byte
	if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.Content, &p.CreatedBy, &p.Active, &meta,
		&p.Stats.InvocationCount, &p.Stats.MeanTokens, &p.Stats.MeanLatencyMS, &p.CreatedAt); err != nil {
		return domain.Prompt{}, err
	}
	p.Metadata = decodeAttrs(meta)
	return p, nil
}

// --- Summaries ---

func (s *Store) LatestSummary(ctx context.Context, orgID, chatID string) (domain.Summary, error) {
	if _, err := s.GetChat(ctx, orgID, chatID); err != nil {
		return domain.Summary{}, err
	}
	var sm domain.Summary
	err := s.pool.QueryRow(ctx, `
SELECT id, chat_id, text, start_message_id, end_message_id, message_count,
       original_tokens, summary_tokens, compression_ratio, created_at
FROM summaries WHERE chat_id=$1 ORDER BY created_at DESC LIMIT 1`, chatID).Scan(
		&sm.ID, &sm.ChatID, &sm.Text, &sm.StartMessageID, &sm.EndMessageID, &sm.MessageCount,
		&sm.OriginalTokens, &sm.SummaryTokens, &sm.CompressionRatio, &sm.CreatedAt)
	if err != nil {
		return domain.Summary{}, notFound(err)
	}
	return sm, nil
}

func (s *Store) CreateSummary(ctx context.Context, orgID string, sm domain.Summary) (domain.Summary, error) {
	if _, err := s.GetChat(ctx, orgID, sm.ChatID); err != nil {
		return domain.Summary{}, err
	}
	if sm.ID == "" {
		sm.ID = newID()
	}
	if sm.OriginalTokens > 0 {
		sm.CompressionRatio = float64(sm.OriginalTokens) / float64(max(sm.SummaryTokens, 1))
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO summaries (id, chat_id, text, start_message_id, end_message_id, message_count,
                        original_tokens, summary_tokens, compression_ratio, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sm.ID, sm.ChatID, sm.Text, sm.StartMessageID, sm.EndMessageID, sm.MessageCount,
		sm.OriginalTokens, sm.SummaryTokens, sm.CompressionRatio, now)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("create summary: %w", err)
	}
	sm.CreatedAt = now
	return sm, nil
}

// --- Documents ---

func (s *Store) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.State == "" {
		d.State = domain.DocumentUploaded
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, org_id, user_id, filename, content_type, size_bytes, storage_path, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		d.ID, d.OrgID, d.UserID, d.Filename, d.ContentType, d.SizeBytes, d.StoragePath, string(d.State), now)
	if err != nil {
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, orgID, id string) (domain.Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, `
SELECT id, org_id, user_id, filename, content_type, size_bytes, storage_path, state,
       failure_reason, page_count, parsed_at, created_at, updated_at
FROM documents WHERE id=$1 AND org_id=$2`, id, orgID))
}

func (s *Store) ListDocuments(ctx context.Context, orgID string) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, org_id, user_id, filename, content_type, size_bytes, storage_path, state,
       failure_reason, page_count, parsed_at, created_at, updated_at
FROM documents WHERE org_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		var state string
		if err := rows.Scan(&d.ID, &d.OrgID, &d.UserID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.StoragePath,
			&state, &d.FailureReason, &d.PageCount, &d.ParsedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.State = domain.DocumentState(state)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDocumentState(ctx context.Context, orgID, id string, state domain.DocumentState, failureReason string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents SET state=$1, failure_reason=$2, updated_at=now() WHERE id=$3 AND org_id=$4`,
		string(state), failureReason, id, orgID)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) MarkParsed(ctx context.Context, orgID, id string, pageCount int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE documents SET state=$1, page_count=$2, parsed_at=now(), updated_at=now()
WHERE id=$3 AND org_id=$4`, string(domain.DocumentParsed), pageCount, id, orgID)
	if err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, orgID, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1 AND org_id=$2`, id, orgID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND org_id=$2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	var state string
	if err := row.Scan(&d.ID, &d.OrgID, &d.UserID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.StoragePath,
		&state, &d.FailureReason, &d.PageCount, &d.ParsedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Document{}, notFound(err)
	}
	d.State = domain.DocumentState(state)
	return d, nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		_, err := tx.Exec(ctx, `
INSERT INTO document_chunks (id, document_id, org_id, chunk_index, content, char_count, token_count, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,now())
ON CONFLICT (document_id, chunk_index) DO UPDATE SET content=EXCLUDED.content, char_count=EXCLUDED.char_count, token_count=EXCLUDED.token_count`,
			c.ID, c.DocumentID, c.OrgID, c.ChunkIndex, c.Content, c.CharCount, c.TokenCount)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChunks(ctx context.Context, orgID, documentID string) ([]domain.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, org_id, chunk_index, content, char_count, token_count, created_at
FROM document_chunks WHERE document_id=$1 AND org_id=$2 ORDER BY chunk_index ASC`, documentID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var out []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OrgID, &c.ChunkIndex, &c.Content, &c.CharCount, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeAttrs(raw []byte) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]string{}
	}
	return m
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ persistence.Repository = (*Store)(nil)
