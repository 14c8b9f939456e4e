package ingestion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/objectstore"
	"github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/queue"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

// TestWorker_ExhaustsRetriesOnUnrecoverableFailure drives a real job through
// Worker.Run against an unparsable blob, mirroring the retry-budget behavior
// a genuinely corrupt upload would hit in production.
func TestWorker_ExhaustsRetriesOnUnrecoverableFailure(t *testing.T) {
	docs := memory.New()
	objects := objectstore.NewMemoryStore()
	q := queue.NewMemoryQueue().WithRetryPolicy(JobKind, queue.RetryPolicy{Attempts: 3, BackoffBase: 0})
	vectors := vectorstore.NewMemory()
	pipeline := New(docs, objects, q, vectors, &fakeEmbedder{})

	ctx := context.Background()
	doc, err := pipeline.Upload(ctx, "org-1", "user-1", "junk.pdf", "application/pdf", 20, strings.NewReader("this is not a pdf at all"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker := NewWorker(pipeline, q)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(runCtx)
		close(workerDone)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if len(q.Dead()) > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-workerDone
			t.Fatal("timed out waiting for the job to exhaust its retry budget")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-workerDone

	dead := q.Dead()
	if len(dead) != 1 {
		t.Fatalf("expected exactly one dead-lettered job, got %d", len(dead))
	}
	if dead[0].Attempt != 3 {
		t.Fatalf("expected the dead job to have made 3 attempts, got %d", dead[0].Attempt)
	}

	stored, err := docs.GetDocument(ctx, "org-1", doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if stored.State != domain.DocumentFailed {
		t.Fatalf("expected document state failed, got %s", stored.State)
	}
}
