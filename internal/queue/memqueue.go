package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue double for tests and local development
// — no consumer-group semantics, just a FIFO per kind with dedup tracking
// and retry/backoff bookkeeping mirroring redisqueue/kafkaqueue.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    map[string]*list.List
	dedup    map[string]struct{}
	policies map[string]RetryPolicy
	def      RetryPolicy
	dead     []*Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:    make(map[string]*list.List),
		dedup:    make(map[string]struct{}),
		policies: make(map[string]RetryPolicy),
		def:      DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the retry policy for a job kind.
func (q *MemoryQueue) WithRetryPolicy(kind string, p RetryPolicy) *MemoryQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policies[kind] = p
	return q
}

func (q *MemoryQueue) policyFor(kind string) RetryPolicy {
	if p, ok := q.policies[kind]; ok {
		return p
	}
	return q.def
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload []byte, dedupKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dedupKey != "" {
		if _, seen := q.dedup[dedupKey]; seen {
			return nil
		}
		q.dedup[dedupKey] = struct{}{}
	}
	if q.ready[kind] == nil {
		q.ready[kind] = list.New()
	}
	q.ready[kind].PushBack(&Job{ID: uuid.NewString(), Kind: kind, Payload: append([]byte(nil), payload...), Attempt: 1})
	return nil
}

func (q *MemoryQueue) Reserve(ctx context.Context, kind string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.ready[kind]
	if l == nil || l.Len() == 0 {
		return nil, ErrEmpty
	}
	e := l.Front()
	l.Remove(e)
	return e.Value.(*Job), nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	return nil
}

// Fail requeues job with an incremented attempt count, or moves it to the
// (in-memory, test-inspectable) dead letter slice once its kind's
// RetryPolicy.Attempts is exhausted. Backoff delay isn't actually awaited —
// tests that care about retry timing exercise the real backends instead.
func (q *MemoryQueue) Fail(ctx context.Context, job *Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	policy := q.policyFor(job.Kind)
	if job.Attempt >= policy.Attempts {
		q.dead = append(q.dead, job)
		return nil
	}
	retry := &Job{ID: job.ID, Kind: job.Kind, Payload: job.Payload, Attempt: job.Attempt + 1}
	if q.ready[job.Kind] == nil {
		q.ready[job.Kind] = list.New()
	}
	q.ready[job.Kind].PushBack(retry)
	return nil
}

func (q *MemoryQueue) Close(ctx context.Context) error { return nil }

// Dead returns the jobs that exhausted their retry budget, for test
// assertions.
func (q *MemoryQueue) Dead() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job(nil), q.dead...)
}

var _ Queue = (*MemoryQueue)(nil)
