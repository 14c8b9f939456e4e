// Package ingestion implements document upload and background parsing
// (spec.md §4.I): synchronous upload validation and storage, then
// chunking, embedding, and vector indexing of the extracted text via a
// queued background job.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/objectstore"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/kestrel-ai/chatplane/internal/queue"
	"github.com/kestrel-ai/chatplane/internal/validation"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

// MaxUploadBytes is spec.md §4.I's upload size ceiling (10 MB).
const MaxUploadBytes = 10 * 1024 * 1024

// JobKind is the queue job kind enqueued on upload and consumed by Worker.
const JobKind = "parse-document"

// allowedContentTypes is the MIME allow-list; spec.md §4.I scopes uploads
// to PDF only.
var allowedContentTypes = map[string]string{
	"application/pdf": "pdf",
}

type jobPayload struct {
	DocumentID string `json:"document_id"`
	OrgID      string `json:"org_id"`
}

// Pipeline wires upload and parse against storage, persistence, the job
// queue, and the vector index.
type Pipeline struct {
	documents persistence.Documents
	objects   objectstore.ObjectStore
	queue     queue.Queue
	vectors   vectorstore.Store
	embedder  llm.Embedder
}

func New(documents persistence.Documents, objects objectstore.ObjectStore, q queue.Queue, vectors vectorstore.Store, embedder llm.Embedder) *Pipeline {
	return &Pipeline{documents: documents, objects: objects, queue: q, vectors: vectors, embedder: embedder}
}

// Upload validates, stores, and records a new document, then enqueues the
// parse job. Returns the document record immediately, before parsing runs.
func (p *Pipeline) Upload(ctx context.Context, orgID, userID, filename, contentType string, size int64, r io.Reader) (domain.Document, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return domain.Document{}, apierr.Validation(fmt.Sprintf("unsupported content type %q", contentType), nil)
	}
	if size <= 0 || size > MaxUploadBytes {
		return domain.Document{}, apierr.Validation(fmt.Sprintf("file size %d exceeds the %d byte limit", size, MaxUploadBytes), nil)
	}

	safeOrgID, err := validation.OrgID(orgID)
	if err != nil {
		return domain.Document{}, apierr.Validation("invalid org id", err)
	}

	storagePath := fmt.Sprintf("%s/%s.%s", safeOrgID, uuid.NewString(), ext)
	if _, err := p.objects.Put(ctx, storagePath, r, objectstore.PutOptions{ContentType: contentType}); err != nil {
		return domain.Document{}, apierr.Internal("store uploaded document", err)
	}

	doc, err := p.documents.CreateDocument(ctx, domain.Document{
		OrgID:       orgID,
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
		StoragePath: storagePath,
		State:       domain.DocumentUploaded,
	})
	if err != nil {
		return domain.Document{}, apierr.Internal("create document record", err)
	}

	payload, _ := json.Marshal(jobPayload{DocumentID: doc.ID, OrgID: orgID})
	dedupKey := "doc-" + doc.ID
	if err := p.queue.Enqueue(ctx, JobKind, payload, dedupKey); err != nil {
		return domain.Document{}, apierr.Internal("enqueue parse job", err)
	}
	return doc, nil
}

// ParseNow runs the parse job synchronously: extract, chunk, embed, index,
// transition state. Shared by Worker's queued path and by callers (tests,
// local dev) that want parsing without a running worker.
func (p *Pipeline) ParseNow(ctx context.Context, orgID, documentID string) error {
	log := observability.LoggerWithTrace(ctx)

	doc, err := p.documents.GetDocument(ctx, orgID, documentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	if err := p.documents.UpdateDocumentState(ctx, orgID, documentID, domain.DocumentProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.parse(ctx, orgID, doc); err != nil {
		log.Warn().Err(err).Str("document_id", documentID).Msg("ingestion_parse_failed")
		if failErr := p.documents.UpdateDocumentState(ctx, orgID, documentID, domain.DocumentFailed, err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("document_id", documentID).Msg("ingestion_mark_failed_failed")
		}
		return err
	}
	return nil
}

func (p *Pipeline) parse(ctx context.Context, orgID string, doc domain.Document) error {
	rc, _, err := p.objects.Get(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("load blob: %w", err)
	}
	defer rc.Close()
	blob, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	text, pageCount, err := extractText(blob)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	windows := Chunk(text)
	chunks := make([]domain.DocumentChunk, 0, len(windows))
	for i, w := range windows {
		charCount := countChars(w)
		chunks = append(chunks, domain.DocumentChunk{
			DocumentID: doc.ID,
			OrgID:      orgID,
			ChunkIndex: i,
			Content:    w,
			CharCount:  charCount,
		})
	}
	if len(chunks) > 0 {
		if err := p.documents.InsertChunks(ctx, chunks); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	// Re-read the persisted chunks so vector points key off the stable,
	// conflict-preserved chunk id rather than a locally generated one —
	// this is what makes the embed/upsert step idempotent across retries.
	persisted, err := p.documents.ListChunks(ctx, orgID, doc.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	if err := p.embedAndIndex(ctx, orgID, doc, persisted); err != nil {
		return fmt.Errorf("embed and index: %w", err)
	}

	if err := p.documents.MarkParsed(ctx, orgID, doc.ID, pageCount); err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	return nil
}

func (p *Pipeline) embedAndIndex(ctx context.Context, orgID string, doc domain.Document, chunks []domain.DocumentChunk) error {
	points := make([]vectorstore.Point, 0, len(chunks))
	for _, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", c.ChunkIndex, err)
		}
		points = append(points, vectorstore.Point{
			ID:     c.ID,
			Vector: vec,
			Metadata: map[string]string{
				"document_id": doc.ID,
				"org_id":      orgID,
				"content":     c.Content,
				"chunk_index": fmt.Sprintf("%d", c.ChunkIndex),
				"filename":    doc.Filename,
			},
		})
	}
	if len(points) == 0 {
		return nil
	}
	return p.vectors.Upsert(ctx, points)
}

// ListDocuments returns every document uploaded within orgID.
func (p *Pipeline) ListDocuments(ctx context.Context, orgID string) ([]domain.Document, error) {
	return p.documents.ListDocuments(ctx, orgID)
}

// GetDocument returns a single document, scoped to orgID.
func (p *Pipeline) GetDocument(ctx context.Context, orgID, id string) (domain.Document, error) {
	return p.documents.GetDocument(ctx, orgID, id)
}

// SearchResult is one chunk hit surfaced by Search.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
}

// DefaultSearchLimit is used when the caller doesn't specify one.
const DefaultSearchLimit = 5

// Search embeds query and returns up to limit chunk hits across the org's
// indexed documents (spec.md §6's document search endpoint).
func (p *Pipeline) Search(ctx context.Context, orgID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apierr.Upstream("embed search query", err, false)
	}
	hits, err := p.vectors.Search(ctx, vec, limit, map[string]string{"org_id": orgID})
	if err != nil {
		return nil, apierr.Upstream("search vector index", err, false)
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			ChunkID:    h.ID,
			Score:      h.Score,
			Content:    h.Metadata["content"],
			DocumentID: h.Metadata["document_id"],
			Filename:   h.Metadata["filename"],
		})
	}
	return results, nil
}

// Delete removes a document's blob, chunk rows, and vector points. Not part
// of spec.md §4.I's literal upload/parse flow but required by §6's document
// delete endpoint, which must clean up all three.
func (p *Pipeline) Delete(ctx context.Context, orgID, documentID string) error {
	doc, err := p.documents.GetDocument(ctx, orgID, documentID)
	if err != nil {
		return err
	}
	if err := p.vectors.DeleteBy(ctx, map[string]string{"document_id": doc.ID}); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := p.objects.Delete(ctx, doc.StoragePath); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return p.documents.DeleteDocument(ctx, orgID, documentID)
}
