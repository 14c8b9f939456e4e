package rag

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

type fakeProvider struct {
	reply       string
	sawMessages []llm.Message
	tokens      []string
}

func (f *fakeProvider) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	f.sawMessages = msgs
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	f.sawMessages = msgs
	for _, tok := range f.tokens {
		onToken(tok)
	}
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) EstimateTokens(text string) int { return len(text) / 4 }

func (f *fakeProvider) WouldExceedBudget(msgs []llm.Message, maxTokens int) bool { return false }

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }

func newOrchestrator(provider llm.Provider, vectors vectorstore.Store, embedder llm.Embedder) *Orchestrator {
	gw := llm.NewGateway(provider, nil, nil)
	return New(gw, vectors, embedder)
}

func TestAsk_ZeroHitsFallsBackToRawQuery(t *testing.T) {
	vectors := vectorstore.NewMemory()
	provider := &fakeProvider{reply: "general knowledge answer"}
	o := newOrchestrator(provider, vectors, &fakeEmbedder{vec: make([]float32, vectorstore.Dimension)})

	answer, err := o.Ask(context.Background(), "org-1", nil, "what is the meaning of life?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Answer != "general knowledge answer" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if len(answer.Documents) != 0 || len(answer.Sources) != 0 {
		t.Fatalf("expected empty documents/sources on a zero-hit miss, got %+v", answer)
	}
	if len(provider.sawMessages) != 1 || provider.sawMessages[0].Content != "what is the meaning of life?" {
		t.Fatalf("expected the raw query passed through unmodified, got %+v", provider.sawMessages)
	}
}

func TestAsk_ComposesAugmentedTurnOnHits(t *testing.T) {
	ctx := context.Background()
	vectors := vectorstore.NewMemory()
	vec := make([]float32, vectorstore.Dimension)
	vec[0] = 1
	if err := vectors.Upsert(ctx, []vectorstore.Point{
		{ID: "c1", Vector: vec, Metadata: map[string]string{"org_id": "org-1", "content": "the answer is 42", "filename": "guide.pdf"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := &fakeProvider{reply: "it's 42, per Document 1"}
	o := newOrchestrator(provider, vectors, &fakeEmbedder{vec: vec})

	answer, err := o.Ask(ctx, "org-1", nil, "what is the answer?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(answer.Documents) != 1 || answer.Documents[0].Filename != "guide.pdf" {
		t.Fatalf("unexpected documents: %+v", answer.Documents)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "guide.pdf" {
		t.Fatalf("unexpected sources: %+v", answer.Sources)
	}
	if len(provider.sawMessages) != 1 {
		t.Fatalf("expected one composed turn, got %d", len(provider.sawMessages))
	}
	turn := provider.sawMessages[0].Content
	if !strings.Contains(turn, "[DOCUMENT EXCERPTS]") || !strings.Contains(turn, "Document 1 (guide.pdf)") || !strings.Contains(turn, "[USER QUESTION]") {
		t.Fatalf("augmented turn missing expected sections:\n%s", turn)
	}
}

func TestAsk_TenantFilterExcludesOtherOrgs(t *testing.T) {
	ctx := context.Background()
	vectors := vectorstore.NewMemory()
	vec := make([]float32, vectorstore.Dimension)
	vec[0] = 1
	if err := vectors.Upsert(ctx, []vectorstore.Point{
		{ID: "c1", Vector: vec, Metadata: map[string]string{"org_id": "org-2", "content": "secret", "filename": "other.pdf"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := &fakeProvider{reply: "no documents"}
	o := newOrchestrator(provider, vectors, &fakeEmbedder{vec: vec})

	answer, err := o.Ask(ctx, "org-1", nil, "anything in here?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(answer.Documents) != 0 {
		t.Fatalf("expected org-1 to see none of org-2's documents, got %+v", answer.Documents)
	}
}

func TestAskStream_EmitsTokensAndRagContext(t *testing.T) {
	ctx := context.Background()
	vectors := vectorstore.NewMemory()
	vec := make([]float32, vectorstore.Dimension)
	vec[0] = 1
	if err := vectors.Upsert(ctx, []vectorstore.Point{
		{ID: "c1", Vector: vec, Metadata: map[string]string{"org_id": "org-1", "content": "chunk", "filename": "doc.pdf"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := &fakeProvider{reply: "streamed answer", tokens: []string{"streamed ", "answer"}}
	o := newOrchestrator(provider, vectors, &fakeEmbedder{vec: vec})

	var got strings.Builder
	text, usage, ragCtx, err := o.AskStream(ctx, "org-1", nil, "question", func(tok string) { got.WriteString(tok) })
	if err != nil {
		t.Fatalf("ask stream: %v", err)
	}
	if text != "streamed answer" || got.String() != "streamed answer" {
		t.Fatalf("unexpected streamed text: %q / %q", text, got.String())
	}
	if usage.Total() != 15 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	var parsed Context
	if err := json.Unmarshal(ragCtx, &parsed); err != nil {
		t.Fatalf("unmarshal rag context: %v", err)
	}
	if parsed.DocumentsUsed != 1 || len(parsed.Sources) != 1 || parsed.Sources[0] != "doc.pdf" {
		t.Fatalf("unexpected rag context: %+v", parsed)
	}
}

func TestUniqueSources_Dedupes(t *testing.T) {
	docs := []Document{{Filename: "a.pdf"}, {Filename: "b.pdf"}, {Filename: "a.pdf"}}
	sources := uniqueSources(docs)
	if len(sources) != 2 {
		t.Fatalf("expected 2 unique sources, got %v", sources)
	}
}
