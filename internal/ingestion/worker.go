package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/queue"
)

// Concurrency is the number of parse-document workers run side by side
// (spec.md §4.I).
const Concurrency = 2

// Worker pulls parse-document jobs off the queue and runs them through
// Pipeline.ParseNow, acking on success and letting the queue's retry policy
// handle failures.
type Worker struct {
	pipeline *Pipeline
	queue    queue.Queue
	retry    queue.RetryPolicy
}

func NewWorker(pipeline *Pipeline, q queue.Queue) *Worker {
	return &Worker{pipeline: pipeline, queue: q, retry: queue.DefaultRetryPolicy()}
}

// Run starts Concurrency poll loops and blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	done := make(chan struct{}, Concurrency)
	for i := 0; i < Concurrency; i++ {
		go func() {
			w.loop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < Concurrency; i++ {
		<-done
	}
}

func (w *Worker) loop(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Reserve(ctx, JobKind)
		if err != nil {
			if err == queue.ErrEmpty {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("ingestion_worker_reserve_failed")
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	log := observability.LoggerWithTrace(ctx)

	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("ingestion_worker_bad_payload")
		_ = w.queue.Fail(ctx, job, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.pipeline.ParseNow(ctx, payload.OrgID, payload.DocumentID); err != nil {
		log.Warn().Err(err).Str("document_id", payload.DocumentID).Int("attempt", job.Attempt).Msg("ingestion_worker_parse_failed")
		if failErr := w.queue.Fail(ctx, job, err); failErr != nil {
			log.Error().Err(failErr).Str("job_id", job.ID).Msg("ingestion_worker_fail_ack_failed")
		}
		return
	}

	if err := w.queue.Ack(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("ingestion_worker_ack_failed")
	}
}
