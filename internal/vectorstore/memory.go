package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemory returns an in-process Store for tests and local development. It
// computes cosine similarity by brute force, so it is unsuitable for large
// collections.
func NewMemory() Store {
	return &memoryStore{points: make(map[string]Point)}
}

func (m *memoryStore) EnsureCollection(ctx context.Context) error { return nil }

func (m *memoryStore) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		m.points[p.ID] = Point{ID: p.ID, Vector: vec, Metadata: md}
	}
	return nil
}

func (m *memoryStore) Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	qnorm := norm(query)
	results := make([]Result, 0, len(m.points))
	for _, p := range m.points {
		if !matchesFilter(p.Metadata, filter) {
			continue
		}
		results = append(results, Result{ID: p.ID, Score: cosine(query, p.Vector, qnorm), Metadata: copyMetadata(p.Metadata)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memoryStore) DeleteBy(ctx context.Context, filter map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if matchesFilter(p.Metadata, filter) {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *memoryStore) Close() error { return nil }

func matchesFilter(md, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	for k, v := range filter {
		if md[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
