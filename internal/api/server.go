// Package api exposes the HTTP trigger and status surface. Triggers return a
// job id immediately; callers observe outcomes by polling the job endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"engagement-pipeline/internal/cache"
	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/ratelimit"
	"engagement-pipeline/internal/scheduler"
	"engagement-pipeline/internal/store"
	"engagement-pipeline/internal/telemetry"
)

const stateTokenTTL = 10 * time.Minute

// TriggerService starts jobs and answers status queries.
type TriggerService interface {
	TriggerFetch(ctx context.Context, req models.DiscoveryRequest) (string, error)
	TriggerYouTubeFetch(ctx context.Context, req models.DiscoveryRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, bool, error)
	GetLatestJob(ctx context.Context, kind, tenantID string) (models.JobStatus, bool, error)
	GetRecentJobs(ctx context.Context, kind string) ([]models.JobStatus, error)
}

// Analyzer re-runs scoring on demand.
type Analyzer interface {
	AnalyzePost(ctx context.Context, externalID string) error
	AnalyzeChannel(ctx context.Context, externalID string) error
}

// ResultStore reads back discovered items.
type ResultStore interface {
	GetPost(ctx context.Context, externalID string) (models.Post, error)
	GetChannel(ctx context.Context, externalID string) (models.Channel, error)
}

// ScheduleReader reports the recurring schedule state.
type ScheduleReader interface {
	GetScheduleInfo(ctx context.Context) (scheduler.ScheduleInfo, error)
}

// DLQReader peeks at dead-lettered job ids.
type DLQReader interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Server wires HTTP handlers for the trigger API.
type Server struct {
	cfg      config.Config
	service  TriggerService
	analyzer Analyzer
	results  ResultStore
	sched    ScheduleReader
	dlq      DLQReader
	limiter  *ratelimit.TokenBucket
	cache    *cache.Cache
	log      zerolog.Logger
}

func New(cfg config.Config, svc TriggerService, analyzer Analyzer, results ResultStore, sched ScheduleReader, dlq DLQReader, limiter *ratelimit.TokenBucket, c *cache.Cache, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		service:  svc,
		analyzer: analyzer,
		results:  results,
		sched:    sched,
		dlq:      dlq,
		limiter:  limiter,
		cache:    c,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/discovery", func(r chi.Router) {
			r.Post("/trigger", s.handleTrigger(models.KindDiscovery))
			r.Get("/jobs", s.handleRecentJobs(models.KindDiscovery))
			r.Get("/jobs/latest", s.handleLatestJob(models.KindDiscovery))
			r.Get("/jobs/{id}", s.handleGetJob)
		})
		r.Route("/youtube", func(r chi.Router) {
			r.Post("/trigger", s.handleTrigger(models.KindYouTubeDiscovery))
			r.Get("/jobs", s.handleRecentJobs(models.KindYouTubeDiscovery))
			r.Get("/jobs/latest", s.handleLatestJob(models.KindYouTubeDiscovery))
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/channels/{id}", s.handleGetChannel)
			r.Post("/channels/{id}/analyze", s.handleAnalyzeChannel)
		})
		r.Get("/posts/{id}", s.handleGetPost)
		r.Post("/posts/{id}/analyze", s.handleAnalyzePost)
		r.Get("/schedule", s.handleSchedule)
		r.Get("/dlq", s.handleDLQ)
		r.Post("/oauth/youtube/start", s.handleOAuthStart)
		r.Get("/oauth/youtube/callback", s.handleOAuthCallback)
	})
	return r
}

type triggerResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleTrigger(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.DiscoveryRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}
		req.TenantID = tenantFromRequest(r)

		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), req.TenantID)
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}

		var (
			jobID string
			err   error
		)
		if kind == models.KindYouTubeDiscovery {
			jobID, err = s.service.TriggerYouTubeFetch(r.Context(), req)
		} else {
			jobID, err = s.service.TriggerFetch(r.Context(), req)
		}
		if err != nil {
			s.log.Error().Err(err).Str("kind", kind).Msg("trigger failed")
			http.Error(w, "trigger failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, triggerResponse{JobID: jobID, Status: models.JobPending})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	st, ok, err := s.service.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLatestJob(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok, err := s.service.GetLatestJob(r.Context(), kind, tenantFromRequest(r))
		if err != nil {
			http.Error(w, "status lookup failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no jobs yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleRecentJobs(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.service.GetRecentJobs(r.Context(), kind)
		if err != nil {
			http.Error(w, "status lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.results.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "post not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.results.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleAnalyzePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.analyzer.AnalyzePost(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "post not found", http.StatusNotFound)
			return
		}
		s.log.Warn().Err(err).Str("post", id).Msg("manual post analysis failed")
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "analyzed"})
}

func (s *Server) handleAnalyzeChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.analyzer.AnalyzeChannel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		s.log.Warn().Err(err).Str("channel", id).Msg("manual channel analysis failed")
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "analyzed"})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	info, err := s.sched.GetScheduleInfo(r.Context())
	if err != nil {
		http.Error(w, "schedule lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleOAuthStart mints a single-use state token for the YouTube account
// connect flow. The callback must present it back before it expires.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	token := uuid.New().String()
	if err := s.cache.SetStateToken(r.Context(), token, tenantFromRequest(r), stateTokenTTL); err != nil {
		http.Error(w, "state token error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": token})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}
	tenant, ok, err := s.cache.ConsumeStateToken(r.Context(), state)
	if err != nil {
		http.Error(w, "state token error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "invalid or expired state", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant": tenant, "status": "connected"})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
