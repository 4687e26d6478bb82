// Package worker drives the job execution loop: dequeue with a lease, look up
// the durable record, dispatch to the handler for the job's kind, and either
// ack or schedule a retry with exponential backoff.
package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/queue"
	"engagement-pipeline/internal/telemetry"
)

// Handler executes one job of a registered kind.
type Handler func(ctx context.Context, rec models.JobRecord) error

// RecordStore is the durable job-record surface the processor needs.
type RecordStore interface {
	GetJobRecord(ctx context.Context, id string) (models.JobRecord, error)
	UpdateJobAttempts(ctx context.Context, id string, attempts int, lastErr string) error
}

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    RecordStore
	handlers map[string]Handler
	log      zerolog.Logger
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, st RecordStore, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize))
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.log.Warn().Int("count", len(reclaimed)).Msg("reclaimed expired leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		rec, err := p.store.GetJobRecord(ctx, jobID)
		if err != nil {
			// Record gone or unreadable; nothing to run against.
			p.log.Warn().Err(err).Str("job_id", jobID).Msg("dropping job without record")
			_ = p.queue.Ack(ctx, jobID)
			continue
		}

		telemetry.InFlightGauge.Inc()
		err = p.runJob(ctx, rec)
		telemetry.InFlightGauge.Dec()
		if err == nil {
			_ = p.queue.Ack(ctx, jobID)
			continue
		}

		attempts := rec.Attempts + 1
		_ = p.store.UpdateJobAttempts(ctx, jobID, attempts, err.Error())
		_ = p.queue.Ack(ctx, jobID)

		maxAttempts := rec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = p.cfg.MaxAttempts
		}
		if attempts >= maxAttempts {
			_ = p.queue.DLQPush(ctx, jobID)
			telemetry.JobsDeadLetter.Inc()
			p.log.Error().Err(err).Str("job_id", jobID).Int("attempts", attempts).Msg("job moved to dead letter queue")
			continue
		}

		backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
		nextRun := time.Now().Add(backoff)
		_ = p.queue.Schedule(ctx, jobID, rec.Kind, nextRun)
		p.log.Warn().Err(err).
			Str("job_id", jobID).
			Int("attempts", attempts).
			Time("next_run", nextRun).
			Msg("job failed, retry scheduled")
	}
}

func (p *Processor) runJob(ctx context.Context, rec models.JobRecord) error {
	handler, ok := p.handlers[rec.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", rec.Kind)
	}
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.VisibilityTimeout)
	defer cancel()
	return handler(runCtx, rec)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
