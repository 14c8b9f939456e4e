package prompts

import (
	"context"
	"testing"

	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/kestrel-ai/chatplane/internal/persistence/memory"
)

func TestRegistry_CreateThenActivate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store)

	v1, err := r.Create(ctx, "chat", "v1 content", "user-1", true, nil)
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if v1.Version != 1 || !v1.Active {
		t.Fatalf("expected v1 active, got %+v", v1)
	}

	v2, err := r.Create(ctx, "chat", "v2 content", "user-1", false, nil)
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("expected monotone version 2, got %d", v2.Version)
	}

	id, content, err := r.Active(ctx, "chat")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if content != "v1 content" || id != v1.ID {
		t.Fatalf("expected v1 still active, got id=%s content=%q", id, content)
	}

	if _, err := r.Activate(ctx, "chat", 2); err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	id, content, err = r.Active(ctx, "chat")
	if err != nil {
		t.Fatalf("active after switch: %v", err)
	}
	if content != "v2 content" || id != v2.ID {
		t.Fatalf("expected v2 now active, got id=%s content=%q", id, content)
	}

	versions, err := r.ListVersions(ctx, "chat")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Fatalf("expected newest-first listing, got %+v", versions)
	}
}

func TestRegistry_ActiveMissingPromptReturnsNotFound(t *testing.T) {
	store := memory.New()
	r := New(store)
	if _, _, err := r.Active(context.Background(), "nonexistent"); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_RecordStatsUpdatesRunningMean(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := New(store)
	v1, err := r.Create(ctx, "chat", "content", "user-1", true, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r.RecordStats(ctx, v1.ID, 100, 50.0)
	r.RecordStats(ctx, v1.ID, 200, 150.0)

	versions, err := r.ListVersions(ctx, "chat")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	stats := versions[0].Stats
	if stats.InvocationCount != 2 {
		t.Fatalf("expected 2 invocations recorded, got %d", stats.InvocationCount)
	}
	if stats.MeanTokens != 150 || stats.MeanLatencyMS != 100 {
		t.Fatalf("expected running means of 150 tokens and 100ms, got %v and %v", stats.MeanTokens, stats.MeanLatencyMS)
	}
}
