// Package kafkaqueue implements internal/queue.Queue over
// github.com/segmentio/kafka-go, an alternate backend for deployments that
// already run Kafka for other asynchronous work (the teacher wires
// kafka-go for an orchestrator command bus; here it drives document
// ingestion jobs instead). Selected via QUEUE_BACKEND=kafka.
package kafkaqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"

	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/queue"
)

type jobEnvelope struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Attempt int    `json:"attempt"`
	Payload []byte `json:"payload"`
}

// Writer is the subset of *kafka.Writer this package needs, narrowed to ease
// testing with a fake (grounded on the teacher's kafka.Writer interface).
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Queue topics jobs by kind (one topic per kind, "jobs.<kind>"). Dedup and
// the failed-archive are tracked in internal/kv since Kafka itself has no
// native dedup/TTL archive primitive.
type Queue struct {
	brokers  []string
	writer   Writer
	readers  map[string]*kafka.Reader
	kv       kv.Store
	groupID  string
	policies map[string]queue.RetryPolicy
}

func New(brokers []string, kvStore kv.Store) *Queue {
	return &Queue{
		brokers:  brokers,
		writer:   &kafka.Writer{Addr: kafka.TCP(brokers...), Balancer: &kafka.LeastBytes{}},
		readers:  map[string]*kafka.Reader{},
		kv:       kvStore,
		groupID:  "chatplane-workers",
		policies: map[string]queue.RetryPolicy{},
	}
}

func (q *Queue) WithRetryPolicy(kind string, p queue.RetryPolicy) *Queue {
	q.policies[kind] = p
	return q
}

func (q *Queue) policyFor(kind string) queue.RetryPolicy {
	if p, ok := q.policies[kind]; ok {
		return p
	}
	return queue.DefaultRetryPolicy()
}

func topicFor(kind string) string { return "jobs." + kind }

func (q *Queue) readerFor(kind string) *kafka.Reader {
	if r, ok := q.readers[kind]; ok {
		return r
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		Topic:   topicFor(kind),
		GroupID: q.groupID,
	})
	q.readers[kind] = r
	return r
}

func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, dedupKey string) error {
	if dedupKey != "" {
		key := "queue:dedup:" + kind + ":" + dedupKey
		if _, err := q.kv.Get(ctx, key); err == nil {
			return nil // already enqueued within the retention window
		}
		if err := q.kv.Set(ctx, key, "1", 24*time.Hour); err != nil {
			log.Warn().Err(err).Msg("kafkaqueue_dedup_write_failed")
		}
	}
	env := jobEnvelope{ID: uuid.NewString(), Kind: kind, Attempt: 1, Payload: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Topic: topicFor(kind), Value: body}); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Reserve fetches (without committing) the next message for kind. The
// returned Job's ID carries the partition/offset pair so Ack can commit it.
func (q *Queue) Reserve(ctx context.Context, kind string) (*queue.Job, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := q.readerFor(kind).FetchMessage(fetchCtx)
	if err != nil {
		if fetchCtx.Err() != nil {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("reserve: %w", err)
	}
	var env jobEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, fmt.Errorf("decode job envelope: %w", err)
	}
	return &queue.Job{
		ID:      fmt.Sprintf("%d:%d:%s", msg.Partition, msg.Offset, env.ID),
		Kind:    kind,
		Payload: env.Payload,
		Attempt: env.Attempt,
	}, nil
}

func (q *Queue) Ack(ctx context.Context, job *queue.Job) error {
	var partition int
	var offset int64
	if _, err := fmt.Sscanf(job.ID, "%d:%d:", &partition, &offset); err == nil {
		msg := kafka.Message{Topic: topicFor(job.Kind), Partition: partition, Offset: offset}
		if err := q.readerFor(job.Kind).CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return q.kv.Set(ctx, "queue:completed:"+job.ID, "1", 24*time.Hour)
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	policy := q.policyFor(job.Kind)
	if job.Attempt >= policy.Attempts {
		archived, _ := json.Marshal(map[string]any{
			"job_id": job.ID, "kind": job.Kind, "attempt": job.Attempt, "error": cause.Error(),
		})
		return q.kv.Set(ctx, "queue:failed:"+job.ID, string(archived), 7*24*time.Hour)
	}
	delay := policy.Backoff(job.Attempt)
	go func() {
		time.Sleep(delay)
		env := jobEnvelope{ID: job.ID, Kind: job.Kind, Attempt: job.Attempt + 1, Payload: job.Payload}
		body, _ := json.Marshal(env)
		if err := q.writer.WriteMessages(context.Background(), kafka.Message{Topic: topicFor(job.Kind), Value: body}); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("kafkaqueue_retry_enqueue_failed")
		}
	}()
	return nil
}

func (q *Queue) Close(ctx context.Context) error {
	for _, r := range q.readers {
		_ = r.Close()
	}
	if w, ok := q.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}

var _ queue.Queue = (*Queue)(nil)
