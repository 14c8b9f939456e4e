// Package kv is the key-value-with-TTL abstraction used by the quota engine
// and the memory engine's window cache (spec.md §4.B). Values are opaque
// strings; callers encode/decode whatever structure they need.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get for an absent or expired key.
var ErrMiss = errors.New("kv: miss")

// Store is the adapter contract. Two backends implement it: redis (for
// production, shared across processes) and memory (for tests).
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// MGet performs a best-effort multi-key read in one round trip where the
	// backend supports it. The returned slice has the same length and order
	// as keys; a missing key's slot is "". Atomicity across the keys is not
	// guaranteed — callers relying on MGet (e.g. the quota engine's token
	// bucket pair) must tolerate brief inconsistency.
	MGet(ctx context.Context, keys ...string) ([]string, error)
	// Ping is a no-op health probe.
	Ping(ctx context.Context) error
}
