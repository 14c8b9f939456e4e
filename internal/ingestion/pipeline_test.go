package ingestion

import (
	"context"
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/objectstore"
	"github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/queue"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

// fakeEmbedder returns a deterministic, content-derived vector so tests can
// assert on index contents without a real provider.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	sum := sha1.Sum([]byte(text))
	vec := make([]float32, vectorstore.Dimension)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255
	}
	return vec, nil
}

func newTestPipeline() (*Pipeline, *memory.Store, *objectstore.MemoryStore, *queue.MemoryQueue, vectorstore.Store, *fakeEmbedder) {
	docs := memory.New()
	objects := objectstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	vectors := vectorstore.NewMemory()
	embedder := &fakeEmbedder{}
	return New(docs, objects, q, vectors, embedder), docs, objects, q, vectors, embedder
}

func TestUpload_RejectsUnsupportedContentType(t *testing.T) {
	p, _, _, _, _, _ := newTestPipeline()
	_, err := p.Upload(context.Background(), "org-1", "user-1", "notes.txt", "text/plain", 10, strings.NewReader("hi"))
	if err == nil {
		t.Fatal("expected an error for an unsupported content type")
	}
	if apiErr, ok := err.(*apierr.Error); !ok || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	p, _, _, _, _, _ := newTestPipeline()
	_, err := p.Upload(context.Background(), "org-1", "user-1", "big.pdf", "application/pdf", MaxUploadBytes+1, strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected an error for an oversized file")
	}
	if apiErr, ok := err.(*apierr.Error); !ok || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestUpload_StoresRecordAndEnqueuesJob(t *testing.T) {
	p, docs, objects, q, _, _ := newTestPipeline()
	ctx := context.Background()

	doc, err := p.Upload(ctx, "org-1", "user-1", "report.pdf", "application/pdf", 4, strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.State != domain.DocumentUploaded {
		t.Fatalf("expected state uploaded, got %s", doc.State)
	}
	if doc.StoragePath == "" || !strings.HasPrefix(doc.StoragePath, "org-1/") {
		t.Fatalf("unexpected storage path %q", doc.StoragePath)
	}

	stored, err := docs.GetDocument(ctx, "org-1", doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if stored.Filename != "report.pdf" {
		t.Fatalf("document record not persisted correctly: %+v", stored)
	}

	rc, _, err := objects.Get(ctx, doc.StoragePath)
	if err != nil {
		t.Fatalf("blob not stored: %v", err)
	}
	rc.Close()

	job, err := q.Reserve(ctx, JobKind)
	if err != nil {
		t.Fatalf("expected a parse job to be enqueued: %v", err)
	}
	if job.Attempt != 1 {
		t.Fatalf("expected first attempt, got %d", job.Attempt)
	}
}

func TestUpload_DuplicateUploadDoesNotDoubleEnqueue(t *testing.T) {
	// Enqueue dedup keys on document ID, so re-uploading the same document
	// id would collapse — exercised here by enqueuing the same dedup key
	// twice directly against the queue double.
	q := queue.NewMemoryQueue()
	ctx := context.Background()
	if err := q.Enqueue(ctx, JobKind, []byte("a"), "doc-1"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, JobKind, []byte("a"), "doc-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Reserve(ctx, JobKind); err != nil {
		t.Fatalf("expected one job reserved: %v", err)
	}
	if _, err := q.Reserve(ctx, JobKind); err != queue.ErrEmpty {
		t.Fatalf("expected the duplicate enqueue to be suppressed, got %v", err)
	}
}

func TestParseNow_CorruptBlobFailsDocument(t *testing.T) {
	p, docs, _, _, _, _ := newTestPipeline()
	ctx := context.Background()

	doc, err := p.Upload(ctx, "org-1", "user-1", "junk.pdf", "application/pdf", 20, strings.NewReader("this is not a pdf at all"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := p.ParseNow(ctx, "org-1", doc.ID); err == nil {
		t.Fatal("expected ParseNow to fail on an unparsable blob")
	}

	stored, err := docs.GetDocument(ctx, "org-1", doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if stored.State != domain.DocumentFailed {
		t.Fatalf("expected state failed, got %s", stored.State)
	}
	if stored.FailureReason == "" {
		t.Fatal("expected a failure reason to be recorded")
	}
}

func TestEmbedAndIndex_IsIdempotentAcrossRetries(t *testing.T) {
	p, _, _, _, vectors, embedder := newTestPipeline()
	ctx := context.Background()

	doc := domain.Document{ID: "doc-1", Filename: "report.pdf"}
	chunks := []domain.DocumentChunk{
		{ID: "chunk-1", DocumentID: doc.ID, ChunkIndex: 0, Content: "alpha"},
		{ID: "chunk-2", DocumentID: doc.ID, ChunkIndex: 1, Content: "beta"},
	}

	if err := p.embedAndIndex(ctx, "org-1", doc, chunks); err != nil {
		t.Fatalf("first embedAndIndex: %v", err)
	}
	if err := p.embedAndIndex(ctx, "org-1", doc, chunks); err != nil {
		t.Fatalf("retried embedAndIndex: %v", err)
	}

	results, err := vectors.Search(ctx, mustEmbed(embedder, "alpha"), 10, map[string]string{"document_id": doc.ID})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	seen := map[string]int{}
	for _, r := range results {
		seen[r.ID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("expected point %s to appear once, got %d — retries should overwrite, not duplicate", id, count)
		}
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 indexed points, got %d", len(results))
	}
}

func mustEmbed(e *fakeEmbedder, text string) []float32 {
	vec, err := e.Embed(context.Background(), text)
	if err != nil {
		panic(err)
	}
	return vec
}

func TestSearch_ReturnsChunksScopedToOrg(t *testing.T) {
	p, _, _, _, vectors, embedder := newTestPipeline()
	ctx := context.Background()

	if err := vectors.Upsert(ctx, []vectorstore.Point{
		{ID: "chunk-1", Vector: mustEmbed(embedder, "self attention"), Metadata: map[string]string{
			"org_id": "org-1", "document_id": "doc-1", "filename": "report.pdf", "content": "self attention",
		}},
		{ID: "chunk-2", Vector: mustEmbed(embedder, "self attention"), Metadata: map[string]string{
			"org_id": "org-2", "document_id": "doc-2", "filename": "other.pdf", "content": "self attention",
		}},
	}); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}

	results, err := p.Search(ctx, "org-1", "self attention", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly the org-1 chunk, got %d results", len(results))
	}
	if results[0].ChunkID != "chunk-1" || results[0].Filename != "report.pdf" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestDelete_RemovesBlobRecordAndVectors(t *testing.T) {
	p, docs, objects, _, vectors, _ := newTestPipeline()
	ctx := context.Background()

	doc, err := p.Upload(ctx, "org-1", "user-1", "report.pdf", "application/pdf", 4, strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := vectors.Upsert(ctx, []vectorstore.Point{{ID: "chunk-1", Vector: make([]float32, vectorstore.Dimension), Metadata: map[string]string{"document_id": doc.ID}}}); err != nil {
		t.Fatalf("seed vector: %v", err)
	}

	if err := p.Delete(ctx, "org-1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := docs.GetDocument(ctx, "org-1", doc.ID); err == nil {
		t.Fatal("expected document record to be gone")
	}
	if _, _, err := objects.Get(ctx, doc.StoragePath); err == nil {
		t.Fatal("expected blob to be gone")
	}
	results, err := vectors.Search(ctx, make([]float32, vectorstore.Dimension), 10, map[string]string{"document_id": doc.ID})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected vectors removed, got %d results", len(results))
	}
}
