// Package redisqueue implements internal/queue.Queue over Redis Streams and
// consumer groups (XADD/XREADGROUP/XACK), the default backend for the
// parse-document job kind.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kestrel-ai/chatplane/internal/queue"
)

const (
	group           = "workers"
	completedTTL    = 24 * time.Hour
	failedTTL       = 7 * 24 * time.Hour
	dedupTTL        = 24 * time.Hour
	reserveBlockFor = 2 * time.Second
)

type envelope struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
}

type Queue struct {
	client      redis.UniversalClient
	consumer    string
	policies    map[string]queue.RetryPolicy
	defaultPolicy queue.RetryPolicy
}

func New(client redis.UniversalClient) *Queue {
	return &Queue{
		client:        client,
		consumer:      "worker-" + uuid.NewString(),
		policies:      map[string]queue.RetryPolicy{},
		defaultPolicy: queue.DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the retry policy for a job kind.
func (q *Queue) WithRetryPolicy(kind string, p queue.RetryPolicy) *Queue {
	q.policies[kind] = p
	return q
}

func (q *Queue) policyFor(kind string) queue.RetryPolicy {
	if p, ok := q.policies[kind]; ok {
		return p
	}
	return q.defaultPolicy
}

func streamKey(kind string) string  { return "queue:stream:" + kind }
func dedupKey(kind, key string) string { return fmt.Sprintf("queue:dedup:%s:%s", kind, key) }
func failedKey(kind string) string  { return "queue:failed:" + kind }

func (q *Queue) ensureGroup(ctx context.Context, kind string) error {
	err := q.client.XGroupCreateMkStream(ctx, streamKey(kind), group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, dedupKeyStr string) error {
	if dedupKeyStr != "" {
		ok, err := q.client.SetNX(ctx, dedupKey(kind, dedupKeyStr), "1", dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !ok {
			return nil // duplicate within retention window, no-op
		}
	}
	if err := q.ensureGroup(ctx, kind); err != nil {
		return err
	}
	jobID := uuid.NewString()
	env := envelope{ID: jobID, Attempt: 1}
	envBytes, _ := json.Marshal(env)
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(kind),
		Values: map[string]any{"envelope": envBytes, "payload": payload},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *Queue) Reserve(ctx context.Context, kind string) (*queue.Job, error) {
	if err := q.ensureGroup(ctx, kind); err != nil {
		return nil, err
	}
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: q.consumer,
		Streams:  []string{streamKey(kind), ">"},
		Count:    1,
		Block:    reserveBlockFor,
	}).Result()
	if err == redis.Nil {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, queue.ErrEmpty
	}
	msg := res[0].Messages[0]
	var env envelope
	if raw, ok := msg.Values["envelope"].(string); ok {
		_ = json.Unmarshal([]byte(raw), &env)
	}
	payload, _ := msg.Values["payload"].(string)
	return &queue.Job{ID: msg.ID, Kind: kind, Payload: []byte(payload), Attempt: env.Attempt}, nil
}

func (q *Queue) Ack(ctx context.Context, job *queue.Job) error {
	if err := q.client.XAck(ctx, streamKey(job.Kind), group, job.ID).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return q.client.Set(ctx, "queue:completed:"+job.ID, "1", completedTTL).Err()
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	policy := q.policyFor(job.Kind)
	// Acknowledge the delivery we just handled; retries are re-enqueued as
	// new stream entries rather than left pending, since Redis Streams has
	// no native delayed-delivery primitive.
	if err := q.client.XAck(ctx, streamKey(job.Kind), group, job.ID).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("queue_ack_on_fail_error")
	}
	if job.Attempt >= policy.Attempts {
		archived, _ := json.Marshal(map[string]any{
			"job_id": job.ID, "kind": job.Kind, "attempt": job.Attempt, "error": cause.Error(),
		})
		key := failedKey(job.Kind)
		if err := q.client.LPush(ctx, key, archived).Err(); err != nil {
			return err
		}
		return q.client.Expire(ctx, key, failedTTL).Err()
	}
	delay := policy.Backoff(job.Attempt)
	go func() {
		time.Sleep(delay)
		env := envelope{ID: job.ID, Attempt: job.Attempt + 1}
		envBytes, _ := json.Marshal(env)
		if err := q.client.XAdd(context.Background(), &redis.XAddArgs{
			Stream: streamKey(job.Kind),
			Values: map[string]any{"envelope": envBytes, "payload": job.Payload},
		}).Err(); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("queue_retry_enqueue_failed")
		}
	}()
	return nil
}

func (q *Queue) Close(ctx context.Context) error {
	return q.client.Close()
}

var _ queue.Queue = (*Queue)(nil)
