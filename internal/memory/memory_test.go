package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/llm"
	memstore "github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/testhelpers"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.SeedOrganization(domain.Organization{ID: "org1", Name: "Acme"})
	s.SeedUser(domain.User{ID: "user1", OrgID: "org1", Email: "a@example.com"})
	return s
}

func appendMsgs(t *testing.T, s *memstore.Store, orgID, chatID string, n int, content string) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := domain.MessageRoleUser
		if i%2 == 1 {
			role = domain.MessageRoleAssistant
		}
		if _, err := s.AppendMessage(context.Background(), orgID, domain.Message{ChatID: chatID, Role: role, Content: content}); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}
}

func TestSelectWindow_NewestAlwaysIncluded(t *testing.T) {
	s := newStore(t)
	chat, err := s.CreateChat(context.Background(), "org1", "user1", "t")
	if err != nil {
		t.Fatal(err)
	}
	longContent := strings.Repeat("x", 40_000) // estimated tokens >> budget alone
	appendMsgs(t, s, "org1", chat.ID, 3, "short")
	if _, err := s.AppendMessage(context.Background(), "org1", domain.Message{ChatID: chat.ID, Role: domain.MessageRoleUser, Content: longContent}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100
	eng := New(s, s, kv.NewMemoryStore(), nil, cfg)

	w, err := eng.SelectWindow(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatalf("select window: %v", err)
	}
	if len(w.Messages) != 1 {
		t.Fatalf("expected only the newest over-long message, got %d", len(w.Messages))
	}
	if !w.Truncated {
		t.Fatalf("expected truncated=true")
	}
	if w.Messages[0].Content != longContent {
		t.Fatalf("newest message not selected")
	}
}

func TestSelectWindow_FitsWithinBudget(t *testing.T) {
	s := newStore(t)
	chat, err := s.CreateChat(context.Background(), "org1", "user1", "t")
	if err != nil {
		t.Fatal(err)
	}
	appendMsgs(t, s, "org1", chat.ID, 5, "hi")

	cfg := DefaultConfig()
	eng := New(s, s, kv.NewMemoryStore(), nil, cfg)

	w, err := eng.SelectWindow(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatalf("select window: %v", err)
	}
	if w.Truncated {
		t.Fatalf("did not expect truncation")
	}
	if len(w.Messages) != 5 {
		t.Fatalf("expected all 5 messages, got %d", len(w.Messages))
	}
}

func TestSelectWindow_UsesCache(t *testing.T) {
	s := newStore(t)
	chat, err := s.CreateChat(context.Background(), "org1", "user1", "t")
	if err != nil {
		t.Fatal(err)
	}
	appendMsgs(t, s, "org1", chat.ID, 2, "hi")

	cache := kv.NewMemoryStore()
	eng := New(s, s, cache, nil, DefaultConfig())

	first, err := eng.SelectWindow(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the store directly; a cache hit should still return the stale window.
	appendMsgs(t, s, "org1", chat.ID, 3, "more")
	second, err := eng.SelectWindow(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Messages) != len(first.Messages) {
		t.Fatalf("expected cached window, got fresh one")
	}

	eng.InvalidateCache(context.Background(), chat.ID)
	third, err := eng.SelectWindow(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(third.Messages) != 5 {
		t.Fatalf("expected fresh window of 5 after invalidation, got %d", len(third.Messages))
	}
}

func TestComposeMessages_WithSummary(t *testing.T) {
	w := Window{
		Summary:  &domain.Summary{Text: "previously discussed widgets"},
		Messages: []domain.Message{{Role: domain.MessageRoleUser, Content: "and now?"}},
	}
	msgs := w.ComposeMessages()
	if len(msgs) != 3 {
		t.Fatalf("expected summary pair + 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || !strings.Contains(msgs[0].Content, "widgets") {
		t.Fatalf("unexpected synthetic summary turn: %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("expected synthetic acknowledging assistant turn")
	}
}

func TestMaybeSummarize_TriggersAndPersists(t *testing.T) {
	s := newStore(t)
	chat, err := s.CreateChat(context.Background(), "org1", "user1", "t")
	if err != nil {
		t.Fatal(err)
	}
	appendMsgs(t, s, "org1", chat.ID, 25, "hello there")

	fake := &testhelpers.FakeProvider{Text: "a concise summary"}
	gw := llm.NewGateway(fake, nil, nil)
	cfg := DefaultConfig()
	eng := New(s, s, kv.NewMemoryStore(), gw, cfg)

	eng.MaybeSummarize(context.Background(), "org1", chat.ID)

	sum, err := s.LatestSummary(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatalf("expected a summary to be persisted: %v", err)
	}
	if sum.Text != "a concise summary" {
		t.Fatalf("unexpected summary text: %q", sum.Text)
	}
	if sum.MessageCount != 25 {
		t.Fatalf("expected message count 25, got %d", sum.MessageCount)
	}
}

func TestMaybeSummarize_SuppressedWithinWindow(t *testing.T) {
	s := newStore(t)
	chat, err := s.CreateChat(context.Background(), "org1", "user1", "t")
	if err != nil {
		t.Fatal(err)
	}
	appendMsgs(t, s, "org1", chat.ID, 25, "hello there")

	all, err := s.ListMessages(context.Background(), "org1", chat.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	lastID := all[len(all)-1].ID

	if _, err := s.CreateSummary(context.Background(), "org1", domain.Summary{
		ChatID: chat.ID, Text: "old summary", EndMessageID: lastID, MessageCount: len(all),
	}); err != nil {
		t.Fatal(err)
	}

	fake := &testhelpers.FakeProvider{Text: "new summary"}
	gw := llm.NewGateway(fake, nil, nil)
	eng := New(s, s, kv.NewMemoryStore(), gw, DefaultConfig())

	eng.MaybeSummarize(context.Background(), "org1", chat.ID)

	sum, err := s.LatestSummary(context.Background(), "org1", chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Text != "old summary" {
		t.Fatalf("expected re-summarization to be suppressed, got %q", sum.Text)
	}
}
