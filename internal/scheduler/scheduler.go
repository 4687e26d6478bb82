// Package scheduler drives the recurring auto-discovery registration and the
// poll loop that fires triggers when a schedule comes due. The schedule
// itself lives in the shared queue backend, so any number of worker processes
// can run this loop without double-firing.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
)

const autoDiscoveryName = "auto-discovery"

// ScheduleQueue is the recurring-schedule surface of the work queue.
type ScheduleQueue interface {
	RegisterRecurring(ctx context.Context, name string, interval time.Duration) error
	RemoveRecurring(ctx context.Context, name string) error
	DueRecurring(ctx context.Context, now time.Time) ([]string, error)
	ListRecurring(ctx context.Context) ([]models.RecurringSchedule, error)
	ReadyDepth(ctx context.Context) (int64, error)
	ScheduledDepth(ctx context.Context) (int64, error)
}

// Trigger starts discovery jobs when a schedule fires.
type Trigger interface {
	TriggerFetch(ctx context.Context, req models.DiscoveryRequest) (string, error)
	TriggerFetchAt(ctx context.Context, req models.DiscoveryRequest, runAt time.Time) (string, error)
}

// ConfigStore answers whether there is anything worth discovering.
type ConfigStore interface {
	ActiveConfigCounts(ctx context.Context) (keywords, subreddits int64, err error)
}

// ScheduleInfo is the read model for the schedule inspection endpoint.
type ScheduleInfo struct {
	Schedules   []models.RecurringSchedule `json:"schedules"`
	PendingJobs int64                      `json:"pending_jobs"`
}

type Scheduler struct {
	queue   ScheduleQueue
	trigger Trigger
	store   ConfigStore
	cfg     config.Config
	log     zerolog.Logger
}

func New(q ScheduleQueue, trigger Trigger, store ConfigStore, cfg config.Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue:   q,
		trigger: trigger,
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// StartScheduledJobs (re)registers the recurring auto-discovery schedule and
// queues one catch-up run shortly after startup. Safe to call from every
// process on every boot: registration replaces any prior entry under the same
// name, leaving exactly one schedule regardless of restarts.
func (s *Scheduler) StartScheduledJobs(ctx context.Context) error {
	if err := s.queue.RemoveRecurring(ctx, autoDiscoveryName); err != nil {
		return fmt.Errorf("remove stale schedule: %w", err)
	}
	if err := s.queue.RegisterRecurring(ctx, autoDiscoveryName, s.cfg.AutoDiscoveryInterval); err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}

	runAt := time.Now().UTC().Add(s.cfg.CatchupDelay)
	jobID, err := s.trigger.TriggerFetchAt(ctx, models.DiscoveryRequest{}, runAt)
	if err != nil {
		return fmt.Errorf("queue catch-up run: %w", err)
	}
	s.log.Info().
		Str("job_id", jobID).
		Dur("interval", s.cfg.AutoDiscoveryInterval).
		Time("catch_up_at", runAt).
		Msg("auto-discovery schedule registered")
	return nil
}

// Run polls for due schedules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx, time.Now().UTC()); err != nil {
				s.log.Warn().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	due, err := s.queue.DueRecurring(ctx, now)
	if err != nil {
		return err
	}
	for _, name := range due {
		if name != autoDiscoveryName {
			s.log.Warn().Str("schedule", name).Msg("unknown schedule fired, ignoring")
			continue
		}
		if err := s.fireAutoDiscovery(ctx); err != nil {
			s.log.Warn().Err(err).Msg("auto-discovery run failed to start")
		}
	}
	return nil
}

// fireAutoDiscovery triggers one discovery run, unless there is no active
// configuration to search with.
func (s *Scheduler) fireAutoDiscovery(ctx context.Context) error {
	keywords, subreddits, err := s.store.ActiveConfigCounts(ctx)
	if err != nil {
		return fmt.Errorf("check active config: %w", err)
	}
	if keywords == 0 || subreddits == 0 {
		s.log.Info().
			Int64("keywords", keywords).
			Int64("subreddits", subreddits).
			Msg("auto-discovery skipped, no active configuration")
		return nil
	}

	jobID, err := s.trigger.TriggerFetch(ctx, models.DiscoveryRequest{})
	if err != nil {
		return err
	}
	s.log.Info().Str("job_id", jobID).Msg("auto-discovery run started")
	return nil
}

// GetScheduleInfo reports the registered schedules and the queue backlog.
func (s *Scheduler) GetScheduleInfo(ctx context.Context) (ScheduleInfo, error) {
	schedules, err := s.queue.ListRecurring(ctx)
	if err != nil {
		return ScheduleInfo{}, err
	}
	ready, err := s.queue.ReadyDepth(ctx)
	if err != nil {
		return ScheduleInfo{}, err
	}
	scheduled, err := s.queue.ScheduledDepth(ctx)
	if err != nil {
		return ScheduleInfo{}, err
	}
	return ScheduleInfo{Schedules: schedules, PendingJobs: ready + scheduled}, nil
}
