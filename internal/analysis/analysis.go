// Package analysis implements the scoring steps triggered after discovery:
// post relevance analysis and the channel analysis pipeline.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"engagement-pipeline/internal/llm"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/scoring"
	"engagement-pipeline/internal/store"
)

// ErrNoBrandProfile marks a configuration error: channel relevance analysis
// needs the tenant's brand context and must not be retried until it exists.
var ErrNoBrandProfile = errors.New("no brand profile configured for tenant")

// Relevance at or above this marks an item recommended.
const recommendThreshold = 7

// Store is the persistence surface the analyzer needs.
type Store interface {
	GetPost(ctx context.Context, externalID string) (models.Post, error)
	SetPostStatus(ctx context.Context, externalID, status string) error
	UpdatePostAnalysis(ctx context.Context, externalID string, relevance int, recommended bool, status string, analysis map[string]any) error

	GetChannel(ctx context.Context, externalID string) (models.Channel, error)
	SetChannelStatus(ctx context.Context, externalID, status string) error
	UpsertChannelVideo(ctx context.Context, v models.ChannelVideo) error
	SaveChannelAnalysis(ctx context.Context, externalID string, r store.ChannelAnalysisResult) error

	GetBrandProfile(ctx context.Context, tenantID string) (models.BrandProfile, error)
}

// VideoProvider fetches a channel's recent uploads.
type VideoProvider interface {
	GetChannelVideos(ctx context.Context, channelID string, maxResults int) ([]providers.Video, error)
}

// Analyzer runs the LLM-backed scoring steps.
type Analyzer struct {
	store            Store
	videos           VideoProvider
	llm              llm.Client
	videosPerChannel int
	log              zerolog.Logger
}

func NewAnalyzer(st Store, videos VideoProvider, client llm.Client, videosPerChannel int, log zerolog.Logger) *Analyzer {
	if videosPerChannel <= 0 {
		videosPerChannel = 10
	}
	return &Analyzer{
		store:            st,
		videos:           videos,
		llm:              client,
		videosPerChannel: videosPerChannel,
		log:              log.With().Str("component", "analysis").Logger(),
	}
}

// AnalyzePost scores a discovered post's relevance and settles its workflow
// status. Posts without brand context are scored against an empty profile;
// unlike channels, post scoring is advisory and runs regardless.
func (a *Analyzer) AnalyzePost(ctx context.Context, externalID string) error {
	post, err := a.store.GetPost(ctx, externalID)
	if err != nil {
		return fmt.Errorf("load post %s: %w", externalID, err)
	}

	if err := a.store.SetPostStatus(ctx, externalID, models.PostAnalyzing); err != nil {
		return fmt.Errorf("mark post analyzing: %w", err)
	}

	brand, err := a.store.GetBrandProfile(ctx, post.TenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load brand profile: %w", err)
	}

	res, err := a.llm.AnalyzeRelevance(ctx, llm.RelevanceRequest{
		Source:             post.Subreddit,
		Title:              post.Title,
		Body:               post.Body,
		Keyword:            post.MatchedKeyword,
		ProductDescription: brand.ProductDescription,
		TargetAudience:     brand.TargetAudience,
	})
	if err != nil {
		// Left in analyzing for a later re-run.
		return fmt.Errorf("relevance analysis for post %s: %w", externalID, err)
	}

	recommended := res.Score >= recommendThreshold
	nextStatus := models.PostRejected
	if recommended {
		nextStatus = models.PostDraftReady
	}
	payload := map[string]any{
		"relevanceScore": res.Score,
		"reasoning":      res.Reasoning,
	}
	if err := a.store.UpdatePostAnalysis(ctx, externalID, res.Score, recommended, nextStatus, payload); err != nil {
		return fmt.Errorf("persist post analysis: %w", err)
	}

	a.log.Debug().Str("post", externalID).Int("relevance", res.Score).
		Bool("recommended", recommended).Msg("post analyzed")
	return nil
}

// AnalyzeChannel runs the full channel analysis: recent videos, relevance,
// ROI, engagement rate, average views. On any failure the channel stays in
// analyzing so the step can be re-triggered; a missing brand profile is a
// configuration error and fails immediately.
func (a *Analyzer) AnalyzeChannel(ctx context.Context, externalID string) error {
	ch, err := a.store.GetChannel(ctx, externalID)
	if err != nil {
		return fmt.Errorf("load channel %s: %w", externalID, err)
	}

	if err := a.store.SetChannelStatus(ctx, externalID, models.ChannelAnalyzing); err != nil {
		return fmt.Errorf("mark channel analyzing: %w", err)
	}

	fetched, err := a.videos.GetChannelVideos(ctx, externalID, a.videosPerChannel)
	if err != nil {
		return fmt.Errorf("fetch videos for %s: %w", externalID, err)
	}
	videos := make([]models.ChannelVideo, 0, len(fetched))
	for _, v := range fetched {
		mv := models.ChannelVideo{
			ExternalID:        v.ExternalID,
			ChannelExternalID: v.ChannelExternalID,
			Title:             v.Title,
			PublishedAt:       v.PublishedAt,
			ViewCount:         v.ViewCount,
			LikeCount:         v.LikeCount,
			CommentCount:      v.CommentCount,
		}
		if err := a.store.UpsertChannelVideo(ctx, mv); err != nil {
			return fmt.Errorf("upsert video %s: %w", v.ExternalID, err)
		}
		videos = append(videos, mv)
	}

	brand, err := a.store.GetBrandProfile(ctx, ch.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: tenant %q", ErrNoBrandProfile, ch.TenantID)
	}
	if err != nil {
		return fmt.Errorf("load brand profile: %w", err)
	}

	rel, err := a.llm.AnalyzeRelevance(ctx, llm.RelevanceRequest{
		Source:             "youtube",
		Title:              ch.Name,
		Body:               channelSummary(ch, videos),
		Keyword:            ch.DiscoveryKeyword,
		ProductDescription: brand.ProductDescription,
		TargetAudience:     brand.TargetAudience,
	})
	if err != nil {
		return fmt.Errorf("relevance analysis for channel %s: %w", externalID, err)
	}

	roi := scoring.ComputeROI(ch, videos, rel.Score)

	result := store.ChannelAnalysisResult{
		RelevanceScore:   rel.Score,
		ROIScore:         roi.Score,
		ROIFactors:       roi.Factors,
		EngagementRate:   scoring.EngagementRate(videos),
		AvgViewsPerVideo: scoring.AvgViewsPerVideo(videos),
	}
	if err := a.store.SaveChannelAnalysis(ctx, externalID, result); err != nil {
		return fmt.Errorf("persist channel analysis: %w", err)
	}

	a.log.Info().Str("channel", externalID).Int("relevance", rel.Score).
		Int("roi", roi.Score).Str("tier", roi.Tier).Msg("channel analyzed")
	return nil
}

// channelSummary gives the LLM the channel description plus recent video
// titles as topical evidence.
func channelSummary(ch models.Channel, videos []models.ChannelVideo) string {
	out := ch.Description
	for _, v := range videos {
		out += "\nRecent video: " + v.Title
	}
	return out
}
