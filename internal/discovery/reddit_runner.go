package discovery

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/status"
	"engagement-pipeline/internal/telemetry"
)

const analysisTimeout = 2 * time.Minute

// SearchProvider is the external post-search collaborator.
type SearchProvider interface {
	Search(ctx context.Context, subreddit, query string, limit int) ([]providers.RedditPost, error)
}

// RunnerStore is the persistence surface the Reddit runner needs.
type RunnerStore interface {
	InsertPostIfNew(ctx context.Context, p models.Post) (bool, error)
	ActiveSubreddits(ctx context.Context) ([]string, error)
	ActiveKeywords(ctx context.Context, tenantID string) ([]string, error)
}

// PostAnalyzer scores a post; invoked fire-and-forget.
type PostAnalyzer interface {
	AnalyzePost(ctx context.Context, externalID string) error
}

// StatusTracker is the write surface runners use for progress ticks.
type StatusTracker interface {
	Update(ctx context.Context, jobID string, upd models.StatusUpdate) (models.JobStatus, error)
}

// Runner executes one Reddit discovery job: fan out searches over every
// (subreddit, keyword) pair sequentially, persist newly seen posts, and kick
// off scoring for each.
type Runner struct {
	store    RunnerStore
	search   SearchProvider
	analyzer PostAnalyzer
	tracker  StatusTracker
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewRunner builds a runner that paces provider calls to ratePerMinute.
func NewRunner(st RunnerStore, search SearchProvider, analyzer PostAnalyzer, tracker StatusTracker, ratePerMinute int, log zerolog.Logger) *Runner {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &Runner{
		store:    st,
		search:   search,
		analyzer: analyzer,
		tracker:  tracker,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		log:      log.With().Str("component", "discovery_runner").Logger(),
	}
}

// Run processes one dequeued discovery job. Errors escaping the loop mark the
// job failed and propagate to the queue's retry tracking; per-pair provider
// failures are logged and skipped.
func (r *Runner) Run(ctx context.Context, rec models.JobRecord) error {
	log := r.log.With().Str("job_id", rec.ID).Logger()

	r.update(ctx, rec.ID, models.StatusUpdate{
		Status:    status.StrPtr(models.JobRunning),
		Progress:  status.IntPtr(0),
		StartedAt: status.TimePtr(time.Now().UTC()),
	})

	subreddits := rec.Request.Subreddits
	if len(subreddits) == 0 {
		var err error
		subreddits, err = r.store.ActiveSubreddits(ctx)
		if err != nil {
			return r.fail(ctx, rec.ID, err)
		}
	}
	keywords := rec.Request.Keywords
	if len(keywords) == 0 {
		var err error
		keywords, err = r.store.ActiveKeywords(ctx, rec.Request.TenantID)
		if err != nil {
			return r.fail(ctx, rec.ID, err)
		}
	}

	total := len(subreddits) * len(keywords)
	discovered := 0
	pairsDone := 0

	for _, sub := range subreddits {
		for _, kw := range keywords {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.fail(ctx, rec.ID, err)
			}

			telemetry.SearchesTotal.Inc()
			posts, err := r.search.Search(ctx, sub, kw, rec.Request.Limit)
			if err != nil {
				// Isolated failure: skip this pair, keep the job alive.
				telemetry.SearchFailures.Inc()
				log.Warn().Err(err).Str("subreddit", sub).Str("keyword", kw).Msg("search failed, skipping pair")
			} else {
				discovered += r.persistPosts(ctx, log, rec, kw, posts)
			}

			pairsDone++
			r.update(ctx, rec.ID, models.StatusUpdate{
				Progress:        status.IntPtr(progressPct(pairsDone, total)),
				DiscoveredCount: &discovered,
			})
		}
	}

	r.update(ctx, rec.ID, models.StatusUpdate{
		Status:          status.StrPtr(models.JobCompleted),
		Progress:        status.IntPtr(100),
		DiscoveredCount: &discovered,
		CompletedAt:     status.TimePtr(time.Now().UTC()),
	})
	telemetry.JobsCompleted.Inc()
	log.Info().Int("pairs", total).Int("discovered", discovered).Msg("discovery job completed")
	return nil
}

func (r *Runner) persistPosts(ctx context.Context, log zerolog.Logger, rec models.JobRecord, keyword string, posts []providers.RedditPost) int {
	inserted := 0
	for _, p := range posts {
		ok, err := r.store.InsertPostIfNew(ctx, models.Post{
			ExternalID:     p.ExternalID,
			Subreddit:      p.Subreddit,
			Title:          p.Title,
			Body:           p.Body,
			URL:            p.URL,
			Author:         p.Author,
			Score:          p.Score,
			PostedAt:       p.CreatedAt,
			MatchedKeyword: keyword,
			Status:         models.PostDiscovered,
			TenantID:       rec.Request.TenantID,
		})
		if err != nil {
			log.Warn().Err(err).Str("post", p.ExternalID).Msg("persist failed, skipping post")
			continue
		}
		if !ok {
			continue // already known, first keyword won
		}
		inserted++
		telemetry.PostsDiscovered.Inc()
		r.spawnAnalysis(p.ExternalID)
	}
	return inserted
}

// spawnAnalysis launches scoring as an independent unit of work. Failures are
// observed only via logging and never join the discovery job's control flow.
func (r *Runner) spawnAnalysis(externalID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.AnalysisFailures.Inc()
				r.log.Error().Interface("panic", rec).Str("post", externalID).Msg("post analysis panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		if err := r.analyzer.AnalyzePost(ctx, externalID); err != nil {
			telemetry.AnalysisFailures.Inc()
			r.log.Warn().Err(err).Str("post", externalID).Msg("post auto-analysis failed")
		}
	}()
}

func (r *Runner) update(ctx context.Context, jobID string, upd models.StatusUpdate) {
	if _, err := r.tracker.Update(ctx, jobID, upd); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}

func (r *Runner) fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	r.update(ctx, jobID, models.StatusUpdate{
		Status:      status.StrPtr(models.JobFailed),
		Error:       &msg,
		CompletedAt: status.TimePtr(time.Now().UTC()),
	})
	telemetry.JobsFailed.Inc()
	return cause
}

func progressPct(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}
