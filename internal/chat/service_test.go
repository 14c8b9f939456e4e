package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/memory"
	memorystore "github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/quota"
	"github.com/kestrel-ai/chatplane/internal/rag"
	"github.com/kestrel-ai/chatplane/internal/streaming"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

type fakeProvider struct {
	reply  string
	tokens []string
}

func (f *fakeProvider) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	for _, tok := range f.tokens {
		onToken(tok)
	}
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) EstimateTokens(text string) int { return len(text) / 4 }

func (f *fakeProvider) WouldExceedBudget(msgs []llm.Message, maxTokens int) bool { return false }

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }

func newTestService(t *testing.T, reply string, tokens []string) (*Service, *memorystore.Store) {
	t.Helper()
	store := memorystore.New()
	q := quota.New(kv.NewMemoryStore(), quota.Config{Capacity: 100, RefillRate: 100, TTL: time.Minute})
	gw := llm.NewGateway(&fakeProvider{reply: reply, tokens: tokens}, nil, nil)
	mem := memory.New(store, store, kv.NewMemoryStore(), gw, memory.DefaultConfig())
	vectors := vectorstore.NewMemory()
	orchestrator := rag.New(gw, vectors, &fakeEmbedder{vec: make([]float32, vectorstore.Dimension)})
	return New(store, store, q, mem, gw, orchestrator), store
}

func TestTurn_HappyPath(t *testing.T) {
	svc, store := newTestService(t, "hello there", nil)
	ctx := context.Background()

	result, err := svc.Turn(ctx, "org-1", "user-1", "", "hi")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if result.Message.Content != "hello there" {
		t.Fatalf("unexpected assistant content: %+v", result.Message)
	}
	if result.ChatID == "" {
		t.Fatal("expected a chat id to be assigned")
	}

	msgs, err := store.ListMessages(ctx, "org-1", result.ChatID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello there" {
		t.Fatalf("expected [user, assistant] persisted in order, got %+v", msgs)
	}
}

func TestTurn_RejectsEmptyMessage(t *testing.T) {
	svc, _ := newTestService(t, "reply", nil)
	_, err := svc.Turn(context.Background(), "org-1", "user-1", "", "")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if apiErr, ok := err.(*apierr.Error); !ok || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestTurn_RejectsOversizedMessage(t *testing.T) {
	svc, _ := newTestService(t, "reply", nil)
	_, err := svc.Turn(context.Background(), "org-1", "user-1", "", strings.Repeat("a", MaxMessageLength+1))
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if apiErr, ok := err.(*apierr.Error); !ok || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestTurn_UnknownChatIDReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, "reply", nil)
	_, err := svc.Turn(context.Background(), "org-1", "user-1", "does-not-exist", "hi")
	if apiErr, ok := err.(*apierr.Error); !ok || apiErr.Kind != apierr.KindNotFound {
		t.Fatalf("expected not-found kind, got %v", err)
	}
}

func TestTurn_QuotaExhaustedRejectsBeforePersisting(t *testing.T) {
	store := memorystore.New()
	// Capacity 1 with a negligible refill rate: the first turn consumes the
	// only token, the second (issued immediately after) finds none refilled.
	q := quota.New(kv.NewMemoryStore(), quota.Config{Capacity: 1, RefillRate: 0.0001, TTL: time.Minute})
	gw := llm.NewGateway(&fakeProvider{reply: "reply"}, nil, nil)
	mem := memory.New(store, store, kv.NewMemoryStore(), gw, memory.DefaultConfig())
	vectors := vectorstore.NewMemory()
	svc := New(store, store, q, mem, gw, rag.New(gw, vectors, &fakeEmbedder{vec: make([]float32, vectorstore.Dimension)}))

	if _, err := svc.Turn(context.Background(), "org-1", "user-1", "", "hi"); err != nil {
		t.Fatalf("first turn should be admitted: %v", err)
	}

	_, err := svc.Turn(context.Background(), "org-1", "user-1", "", "hi again")
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindQuotaExhausted {
		t.Fatalf("expected quota_exhausted on the second turn, got %v", err)
	}

	chats, err := store.ListChats(context.Background(), "org-1", "user-1")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected the rejected turn to persist no chat, got %d chats", len(chats))
	}
}

func TestTurnStream_PersistsAssistantMessageOnCompletion(t *testing.T) {
	svc, store := newTestService(t, "full reply", []string{"full ", "reply"})
	ctx := context.Background()

	result, err := svc.Turn(ctx, "org-1", "user-1", "", "seed")
	if err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	rec := httptest.NewRecorder()
	w, ok := streaming.NewWriter(rec)
	if !ok {
		t.Fatal("expected the recorder to satisfy http.Flusher")
	}

	if err := svc.TurnStream(ctx, w, "org-1", "user-1", result.ChatID, "stream this"); err != nil {
		t.Fatalf("turn stream: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "org-1", result.ChatID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (seed pair + streamed pair), got %d", len(msgs))
	}
	if msgs[3].Content != "full reply" {
		t.Fatalf("expected the streamed assistant content persisted, got %q", msgs[3].Content)
	}
}

func TestAskRAG_ReturnsZeroHitAnswerAndPersists(t *testing.T) {
	svc, store := newTestService(t, "general answer", nil)
	ctx := context.Background()

	answer, assistant, err := svc.AskRAG(ctx, "org-1", "user-1", "", "what's up?")
	if err != nil {
		t.Fatalf("ask rag: %v", err)
	}
	if answer.Answer != "general answer" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	msgs, err := store.ListMessages(ctx, "org-1", assistant.ChatID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected the user question and rag answer persisted, got %d messages", len(msgs))
	}
}
