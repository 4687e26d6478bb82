package discovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/status"
	"engagement-pipeline/internal/telemetry"
)

// ChannelProvider is the external channel-search collaborator.
type ChannelProvider interface {
	SearchChannels(ctx context.Context, keyword string, maxResults int) ([]providers.ChannelSummary, error)
	GetChannelDetails(ctx context.Context, ids []string) ([]providers.ChannelDetails, error)
}

// YouTubeRunnerStore is the persistence surface the YouTube runner needs.
type YouTubeRunnerStore interface {
	InsertChannelIfNew(ctx context.Context, ch models.Channel) (bool, error)
	ActiveKeywords(ctx context.Context, tenantID string) ([]string, error)
}

// ChannelAnalyzer scores a channel; invoked fire-and-forget.
type ChannelAnalyzer interface {
	AnalyzeChannel(ctx context.Context, externalID string) error
}

// YouTubeRunner executes one YouTube discovery job: search channels per
// keyword, fetch statistics in batch, persist newly seen channels, and kick
// off scoring for each.
type YouTubeRunner struct {
	store       YouTubeRunnerStore
	provider    ChannelProvider
	analyzer    ChannelAnalyzer
	tracker     StatusTracker
	limiter     *rate.Limiter
	maxPerQuery int
	log         zerolog.Logger
}

func NewYouTubeRunner(st YouTubeRunnerStore, provider ChannelProvider, analyzer ChannelAnalyzer, tracker StatusTracker, ratePerMinute, maxPerQuery int, log zerolog.Logger) *YouTubeRunner {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	if maxPerQuery <= 0 {
		maxPerQuery = 10
	}
	return &YouTubeRunner{
		store:       st,
		provider:    provider,
		analyzer:    analyzer,
		tracker:     tracker,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		maxPerQuery: maxPerQuery,
		log:         log.With().Str("component", "youtube_runner").Logger(),
	}
}

// Run processes one dequeued YouTube discovery job. A channel surfaced by
// several keywords within the same job is attributed to the first keyword
// that found it.
func (r *YouTubeRunner) Run(ctx context.Context, rec models.JobRecord) error {
	log := r.log.With().Str("job_id", rec.ID).Logger()

	r.update(ctx, rec.ID, models.StatusUpdate{
		Status:    status.StrPtr(models.JobRunning),
		Progress:  status.IntPtr(0),
		StartedAt: status.TimePtr(time.Now().UTC()),
	})

	keywords := rec.Request.Keywords
	if len(keywords) == 0 {
		var err error
		keywords, err = r.store.ActiveKeywords(ctx, rec.Request.TenantID)
		if err != nil {
			return r.fail(ctx, rec.ID, err)
		}
	}

	maxPer := rec.Request.MaxPerKeyword
	if maxPer <= 0 || maxPer > r.maxPerQuery {
		maxPer = r.maxPerQuery
	}

	seen := make(map[string]string) // channel external id -> keyword that found it
	found := 0

	for i, kw := range keywords {
		if err := r.limiter.Wait(ctx); err != nil {
			return r.fail(ctx, rec.ID, err)
		}

		telemetry.SearchesTotal.Inc()
		summaries, err := r.provider.SearchChannels(ctx, kw, maxPer)
		if err != nil {
			telemetry.SearchFailures.Inc()
			log.Warn().Err(err).Str("keyword", kw).Msg("channel search failed, skipping keyword")
		} else {
			found += r.persistChannels(ctx, log, rec, kw, summaries, seen)
		}

		r.update(ctx, rec.ID, models.StatusUpdate{
			Progress:      status.IntPtr(progressPct(i+1, len(keywords))),
			ChannelsFound: &found,
		})
	}

	r.update(ctx, rec.ID, models.StatusUpdate{
		Status:        status.StrPtr(models.JobCompleted),
		Progress:      status.IntPtr(100),
		ChannelsFound: &found,
		CompletedAt:   status.TimePtr(time.Now().UTC()),
	})
	telemetry.JobsCompleted.Inc()
	log.Info().Int("keywords", len(keywords)).Int("channels", found).Msg("youtube discovery job completed")
	return nil
}

func (r *YouTubeRunner) persistChannels(ctx context.Context, log zerolog.Logger, rec models.JobRecord, keyword string, summaries []providers.ChannelSummary, seen map[string]string) int {
	var fresh []string
	for _, s := range summaries {
		if _, dup := seen[s.ExternalID]; dup {
			continue
		}
		seen[s.ExternalID] = keyword
		fresh = append(fresh, s.ExternalID)
	}
	if len(fresh) == 0 {
		return 0
	}

	details, err := r.provider.GetChannelDetails(ctx, fresh)
	if err != nil {
		telemetry.SearchFailures.Inc()
		log.Warn().Err(err).Str("keyword", keyword).Msg("channel details fetch failed, skipping batch")
		return 0
	}

	inserted := 0
	for _, d := range details {
		ok, err := r.store.InsertChannelIfNew(ctx, models.Channel{
			ExternalID:            d.ExternalID,
			Name:                  d.Name,
			Description:           d.Description,
			SubscriberCount:       d.SubscriberCount,
			HiddenSubscriberCount: d.HiddenSubscriberCount,
			VideoCount:            d.VideoCount,
			ViewCount:             d.ViewCount,
			DiscoveryKeyword:      seen[d.ExternalID],
			Status:                models.ChannelDiscovered,
			TenantID:              rec.Request.TenantID,
		})
		if err != nil {
			log.Warn().Err(err).Str("channel", d.ExternalID).Msg("persist failed, skipping channel")
			continue
		}
		if !ok {
			continue
		}
		inserted++
		telemetry.ChannelsDiscovered.Inc()
		r.spawnChannelAnalysis(d.ExternalID)
	}
	return inserted
}

func (r *YouTubeRunner) spawnChannelAnalysis(externalID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.AnalysisFailures.Inc()
				r.log.Error().Interface("panic", rec).Str("channel", externalID).Msg("channel analysis panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		if err := r.analyzer.AnalyzeChannel(ctx, externalID); err != nil {
			telemetry.AnalysisFailures.Inc()
			r.log.Warn().Err(err).Str("channel", externalID).Msg("channel auto-analysis failed")
		}
	}()
}

func (r *YouTubeRunner) update(ctx context.Context, jobID string, upd models.StatusUpdate) {
	if _, err := r.tracker.Update(ctx, jobID, upd); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}

func (r *YouTubeRunner) fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	r.update(ctx, jobID, models.StatusUpdate{
		Status:      status.StrPtr(models.JobFailed),
		Error:       &msg,
		CompletedAt: status.TimePtr(time.Now().UTC()),
	})
	telemetry.JobsFailed.Inc()
	return cause
}
