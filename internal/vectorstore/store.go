// Package vectorstore is the vector index adapter (spec.md §4.J): a fixed
// collection of 768-dimensional cosine vectors, searched and filtered by
// payload fields (always including org_id for tenant isolation — see
// DESIGN.md's Open Question 2 resolution).
package vectorstore

import "context"

// Dimension is the embedding width produced by (G)'s local provider.
const Dimension = 768

// Point is one vector plus its payload bag, keyed by a caller-chosen id
// (for document chunks, the chunk's id).
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Result is one search hit: the point id, a similarity score (cosine,
// higher is better), and its stored payload.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the vector index contract. Every backend fixes its collection
// name and dimension at construction.
type Store interface {
	// EnsureCollection creates the collection if it does not already
	// exist. Called once at startup.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts or replaces points. Re-upserting the same id is
	// idempotent, which document ingestion's retry policy depends on.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit nearest neighbors of query, restricted to
	// points whose payload matches every key in filter. filter is
	// deliberately non-optional: every caller in this system searches
	// within a tenant, and an empty map here would search across all
	// tenants.
	Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Result, error)

	// DeleteBy removes every point whose payload matches every key in
	// filter — used when a document is deleted.
	DeleteBy(ctx context.Context, filter map[string]string) error

	Close() error
}
