// Package queue is the durable, at-least-once job queue adapter (spec.md
// §4.C), used by document ingestion to hand parse work from the upload path
// to background workers. Two backends implement Queue: redisqueue (Redis
// Streams + consumer groups) and kafkaqueue (segmentio/kafka-go), selected
// by configuration.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Reserve when no job is currently available.
var ErrEmpty = errors.New("queue: empty")

// RetryPolicy configures a job kind's retry behavior: Attempts total tries
// (including the first), with exponential backoff starting at
// BackoffBase.
type RetryPolicy struct {
	Attempts    int
	BackoffBase time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BackoffBase: 2 * time.Second}
}

// Backoff returns the delay before attempt number n (1-indexed) is retried.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Job is one reserved unit of work. Kind identifies the handler that should
// process Payload; Attempt is the 1-indexed delivery count.
type Job struct {
	ID      string
	Kind    string
	Payload []byte
	Attempt int
}

// Queue is the enqueue/reserve/ack/fail contract. Completed jobs are
// retained 24h; failed (attempt-budget-exhausted) jobs are retained 7 days
// in a failed archive, per spec.md §4.C.
type Queue interface {
	// Enqueue submits a job of the given kind. A non-empty dedupKey makes
	// re-enqueues within the retention window a no-op.
	Enqueue(ctx context.Context, kind string, payload []byte, dedupKey string) error
	// Reserve claims the next available job of kind for this worker,
	// blocking up to a backend-specific poll interval. Returns ErrEmpty if
	// none is available.
	Reserve(ctx context.Context, kind string) (*Job, error)
	// Ack marks job as completed.
	Ack(ctx context.Context, job *Job) error
	// Fail schedules job for retry with backoff, or moves it to the failed
	// archive if its attempt budget (per the kind's RetryPolicy) is
	// exhausted.
	Fail(ctx context.Context, job *Job, cause error) error
	Close(ctx context.Context) error
}
