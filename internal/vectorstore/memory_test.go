package vectorstore

import (
	"context"
	"testing"
)

func TestMemoryStore_SearchRanksBySimilarity(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"org_id": "org1"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"org_id": "org1"}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"org_id": "org1"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2, map[string]string{"org_id": "org1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "c" {
		t.Fatalf("unexpected ranking: %+v", results)
	}
}

func TestMemoryStore_SearchFiltersByTenant(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, []Point{
		{ID: "mine", Vector: []float32{1, 0}, Metadata: map[string]string{"org_id": "org1"}},
		{ID: "theirs", Vector: []float32{1, 0}, Metadata: map[string]string{"org_id": "org2"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, 10, map[string]string{"org_id": "org1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "mine" {
		t.Fatalf("expected only the tenant-matching point, got %+v", results)
	}
}

func TestMemoryStore_DeleteBy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, []Point{
		{ID: "chunk1", Vector: []float32{1, 0}, Metadata: map[string]string{"document_id": "doc1"}},
		{ID: "chunk2", Vector: []float32{0, 1}, Metadata: map[string]string{"document_id": "doc1"}},
		{ID: "chunk3", Vector: []float32{1, 1}, Metadata: map[string]string{"document_id": "doc2"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.DeleteBy(ctx, map[string]string{"document_id": "doc1"}); err != nil {
		t.Fatalf("delete_by: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 1}, 10, map[string]string{"document_id": "doc2"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "chunk3" {
		t.Fatalf("expected only doc2's chunk to remain, got %+v", results)
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	p := Point{ID: "chunk1", Vector: []float32{1, 0}, Metadata: map[string]string{"document_id": "doc1"}}
	if err := s.Upsert(ctx, []Point{p}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.Upsert(ctx, []Point{p}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, 10, map[string]string{"document_id": "doc1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected a single point despite re-upsert, got %d", len(results))
	}
}
