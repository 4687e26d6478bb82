// Package discovery implements the asynchronous discovery pipeline: the
// trigger service callers see, and the job runners the queue workers execute.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/status"
	"engagement-pipeline/internal/telemetry"
)

// TriggerStore persists durable job records at trigger time.
type TriggerStore interface {
	CreateJobRecord(ctx context.Context, rec models.JobRecord) error
}

// Queue is the enqueue surface the trigger service needs.
type Queue interface {
	Enqueue(ctx context.Context, jobID, kind string, runAt time.Time) error
}

// Service mints job ids and enqueues discovery work. The caller gets the id
// immediately; outcomes are only ever visible through status polling.
type Service struct {
	store   TriggerStore
	queue   Queue
	tracker *status.Tracker
	cfg     config.Config
	log     zerolog.Logger
}

func NewService(st TriggerStore, q Queue, tracker *status.Tracker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		store:   st,
		queue:   q,
		tracker: tracker,
		cfg:     cfg,
		log:     log.With().Str("component", "discovery").Logger(),
	}
}

// TriggerFetch starts a Reddit discovery job and returns its id.
func (s *Service) TriggerFetch(ctx context.Context, req models.DiscoveryRequest) (string, error) {
	return s.trigger(ctx, models.KindDiscovery, req, time.Now())
}

// TriggerFetchAt starts a Reddit discovery job deferred until runAt, used by
// the scheduler's catch-up one-shot.
func (s *Service) TriggerFetchAt(ctx context.Context, req models.DiscoveryRequest, runAt time.Time) (string, error) {
	return s.trigger(ctx, models.KindDiscovery, req, runAt)
}

// TriggerYouTubeFetch starts a YouTube channel discovery job and returns its id.
func (s *Service) TriggerYouTubeFetch(ctx context.Context, req models.DiscoveryRequest) (string, error) {
	return s.trigger(ctx, models.KindYouTubeDiscovery, req, time.Now())
}

func (s *Service) trigger(ctx context.Context, kind string, req models.DiscoveryRequest, runAt time.Time) (string, error) {
	req.Limit = s.clampLimit(req.Limit)
	if req.MaxPerKeyword <= 0 || req.MaxPerKeyword > s.cfg.MaxSearchLimit {
		req.MaxPerKeyword = s.cfg.MaxChannelsPerQuery
	}

	id := uuid.New().String()
	rec := models.JobRecord{
		ID:          id,
		Kind:        kind,
		TenantID:    req.TenantID,
		Request:     req,
		MaxAttempts: s.cfg.MaxAttempts,
	}
	if err := s.store.CreateJobRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	st := models.JobStatus{
		ID:       id,
		Kind:     kind,
		TenantID: req.TenantID,
		Status:   models.JobPending,
	}
	zero := 0
	if kind == models.KindYouTubeDiscovery {
		st.ChannelsFound = &zero
	} else {
		st.DiscoveredCount = &zero
	}
	if err := s.tracker.Init(ctx, st); err != nil {
		return "", fmt.Errorf("init job status: %w", err)
	}

	if err := s.queue.Enqueue(ctx, id, kind, runAt); err != nil {
		errMsg := err.Error()
		_, _ = s.tracker.Update(ctx, id, models.StatusUpdate{
			Status: status.StrPtr(models.JobFailed),
			Error:  &errMsg,
		})
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.EnqueueCounter.Inc()

	s.log.Info().Str("job_id", id).Str("kind", kind).Str("tenant", req.TenantID).Msg("job triggered")
	return id, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultSearchLimit
	}
	if s.cfg.MaxSearchLimit > 0 && limit > s.cfg.MaxSearchLimit {
		return s.cfg.MaxSearchLimit
	}
	return limit
}

// GetJobStatus returns the status document for one job.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, bool, error) {
	return s.tracker.Get(ctx, jobID)
}

// GetLatestJob returns the most recently triggered job for a pipeline/tenant.
func (s *Service) GetLatestJob(ctx context.Context, kind, tenantID string) (models.JobStatus, bool, error) {
	return s.tracker.Latest(ctx, kind, tenantID)
}

// GetRecentJobs lists recent jobs for a pipeline, most recent first.
func (s *Service) GetRecentJobs(ctx context.Context, kind string) ([]models.JobStatus, error) {
	return s.tracker.Recent(ctx, kind, s.cfg.RecentJobsKeep)
}
