// Package quota implements the per-organization token-bucket rate limiter
// (spec.md §4.D). Two keys per org are stored side-by-side in internal/kv;
// atomicity across the pair is not required — the algorithm is monotonic in
// both directions and converges (spec.md §9).
package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-ai/chatplane/internal/kv"
)

// Config tunes the bucket. Zero-valued fields fall back to spec.md's
// defaults via DefaultConfig.
type Config struct {
	Capacity   float64       // C, burst size
	RefillRate float64       // R, tokens/second
	TTL        time.Duration // T, self-eviction for inactive tenants
}

func DefaultConfig() Config {
	return Config{Capacity: 20, RefillRate: 1, TTL: 60 * time.Second}
}

// Result is the outcome of an admission check or peek.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Engine checks and debits per-org buckets over a kv.Store.
type Engine struct {
	store kv.Store
	cfg   Config
	// now is overridable in tests.
	now func() time.Time
}

func New(store kv.Store, cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = d.RefillRate
	}
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	return &Engine{store: store, cfg: cfg, now: time.Now}
}

func tokensKey(orgID string) string      { return fmt.Sprintf("ratelimit:%s:tokens", orgID) }
func lastRefillKey(orgID string) string  { return fmt.Sprintf("ratelimit:%s:last_refill", orgID) }

// Check performs an admission check for orgID, debiting one token on
// success. On kv.Store failure it fails open: allowed, remaining=Capacity,
// a one-window reset, logged at warn — availability over strict enforcement.
func (e *Engine) Check(ctx context.Context, orgID string) Result {
	tokens, lastRefill, err := e.read(ctx, orgID)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("quota_store_unreachable_fail_open")
		return Result{Allowed: true, Remaining: int(e.cfg.Capacity), ResetAt: e.now().Add(e.window())}
	}

	now := e.now()
	refilled := e.refill(tokens, lastRefill, now)

	if refilled >= 1 {
		remaining := refilled - 1
		if err := e.write(ctx, orgID, remaining, now); err != nil {
			log.Warn().Err(err).Str("org_id", orgID).Msg("quota_store_write_failed_fail_open")
		}
		return Result{
			Allowed:   true,
			Remaining: int(remaining),
			ResetAt:   now.Add(time.Duration((e.cfg.Capacity-remaining)/e.cfg.RefillRate) * time.Second),
		}
	}

	return Result{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   now.Add(time.Duration((1-refilled)/e.cfg.RefillRate) * time.Second),
	}
}

// Peek performs the same refill computation as Check without consuming a
// token, for surfacing current quota to the client.
func (e *Engine) Peek(ctx context.Context, orgID string) Result {
	tokens, lastRefill, err := e.read(ctx, orgID)
	if err != nil {
		return Result{Allowed: true, Remaining: int(e.cfg.Capacity), ResetAt: e.now().Add(e.window())}
	}
	now := e.now()
	refilled := e.refill(tokens, lastRefill, now)
	allowed := refilled >= 1
	remaining := refilled
	if allowed {
		remaining = refilled - 1
	}
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: int(remaining), ResetAt: now.Add(e.window())}
}

func (e *Engine) refill(tokens float64, lastRefill time.Time, now time.Time) float64 {
	elapsed := now.Sub(lastRefill).Seconds()
	refilled := tokens + elapsed*e.cfg.RefillRate
	if refilled > e.cfg.Capacity {
		refilled = e.cfg.Capacity
	}
	return refilled
}

func (e *Engine) window() time.Duration {
	return time.Duration(e.cfg.Capacity/e.cfg.RefillRate) * time.Second
}

// read loads the stored pair, treating a missing/partial pair as (C, now)
// per spec.md §4.D step 1.
func (e *Engine) read(ctx context.Context, orgID string) (tokens float64, lastRefill time.Time, err error) {
	vals, err := e.store.MGet(ctx, tokensKey(orgID), lastRefillKey(orgID))
	if err != nil {
		return 0, time.Time{}, err
	}
	now := e.now()
	if len(vals) != 2 || vals[0] == "" || vals[1] == "" {
		return e.cfg.Capacity, now, nil
	}
	tokens, tErr := strconv.ParseFloat(vals[0], 64)
	millis, rErr := strconv.ParseInt(vals[1], 10, 64)
	if tErr != nil || rErr != nil {
		return e.cfg.Capacity, now, nil
	}
	return tokens, time.UnixMilli(millis), nil
}

func (e *Engine) write(ctx context.Context, orgID string, tokens float64, at time.Time) error {
	if err := e.store.Set(ctx, tokensKey(orgID), strconv.FormatFloat(tokens, 'f', -1, 64), e.cfg.TTL); err != nil {
		return err
	}
	return e.store.Set(ctx, lastRefillKey(orgID), strconv.FormatInt(at.UnixMilli(), 10), e.cfg.TTL)
}
