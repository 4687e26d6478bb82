package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"engagement-pipeline/internal/llm"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
	"engagement-pipeline/internal/store"
)

type fakeStore struct {
	posts    map[string]models.Post
	channels map[string]models.Channel
	brands   map[string]models.BrandProfile

	postStatuses    map[string]string
	channelStatuses map[string]string
	videosUpserted  []models.ChannelVideo
	postAnalyses    map[string]postAnalysis
	channelResults  map[string]store.ChannelAnalysisResult
}

type postAnalysis struct {
	relevance   int
	recommended bool
	status      string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:           map[string]models.Post{},
		channels:        map[string]models.Channel{},
		brands:          map[string]models.BrandProfile{},
		postStatuses:    map[string]string{},
		channelStatuses: map[string]string{},
		postAnalyses:    map[string]postAnalysis{},
		channelResults:  map[string]store.ChannelAnalysisResult{},
	}
}

func (f *fakeStore) GetPost(_ context.Context, id string) (models.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return models.Post{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) SetPostStatus(_ context.Context, id, status string) error {
	f.postStatuses[id] = status
	return nil
}

func (f *fakeStore) UpdatePostAnalysis(_ context.Context, id string, relevance int, recommended bool, status string, _ map[string]any) error {
	f.postAnalyses[id] = postAnalysis{relevance: relevance, recommended: recommended, status: status}
	f.postStatuses[id] = status
	return nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (models.Channel, error) {
	c, ok := f.channels[id]
	if !ok {
		return models.Channel{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) SetChannelStatus(_ context.Context, id, status string) error {
	f.channelStatuses[id] = status
	return nil
}

func (f *fakeStore) UpsertChannelVideo(_ context.Context, v models.ChannelVideo) error {
	f.videosUpserted = append(f.videosUpserted, v)
	return nil
}

func (f *fakeStore) SaveChannelAnalysis(_ context.Context, id string, r store.ChannelAnalysisResult) error {
	f.channelResults[id] = r
	f.channelStatuses[id] = models.ChannelAnalyzed
	return nil
}

func (f *fakeStore) GetBrandProfile(_ context.Context, tenantID string) (models.BrandProfile, error) {
	b, ok := f.brands[tenantID]
	if !ok {
		return models.BrandProfile{}, store.ErrNotFound
	}
	return b, nil
}

type fakeLLM struct {
	score int
	err   error
	calls int
}

func (f *fakeLLM) AnalyzeRelevance(_ context.Context, _ llm.RelevanceRequest) (llm.RelevanceResult, error) {
	f.calls++
	if f.err != nil {
		return llm.RelevanceResult{}, f.err
	}
	return llm.RelevanceResult{Score: f.score, Reasoning: "test reasoning"}, nil
}

type fakeVideos struct {
	videos []providers.Video
	err    error
}

func (f *fakeVideos) GetChannelVideos(_ context.Context, _ string, _ int) ([]providers.Video, error) {
	return f.videos, f.err
}

func TestAnalyzePostRecommended(t *testing.T) {
	st := newFakeStore()
	st.posts["t3_x"] = models.Post{ExternalID: "t3_x", Subreddit: "golang", Title: "need a CI tool", TenantID: "t1"}
	st.brands["t1"] = models.BrandProfile{TenantID: "t1", ProductDescription: "CI platform"}

	a := NewAnalyzer(st, &fakeVideos{}, &fakeLLM{score: 8}, 10, zerolog.Nop())
	if err := a.AnalyzePost(context.Background(), "t3_x"); err != nil {
		t.Fatalf("analyze post: %v", err)
	}

	res := st.postAnalyses["t3_x"]
	if !res.recommended || res.status != models.PostDraftReady || res.relevance != 8 {
		t.Fatalf("unexpected analysis outcome: %+v", res)
	}
}

func TestAnalyzePostBelowThresholdRejected(t *testing.T) {
	st := newFakeStore()
	st.posts["t3_x"] = models.Post{ExternalID: "t3_x", TenantID: "t1"}

	a := NewAnalyzer(st, &fakeVideos{}, &fakeLLM{score: 3}, 10, zerolog.Nop())
	if err := a.AnalyzePost(context.Background(), "t3_x"); err != nil {
		t.Fatalf("analyze post: %v", err)
	}
	res := st.postAnalyses["t3_x"]
	if res.recommended || res.status != models.PostRejected {
		t.Fatalf("expected rejected outcome, got %+v", res)
	}
}

func TestAnalyzePostLLMFailureLeavesAnalyzing(t *testing.T) {
	st := newFakeStore()
	st.posts["t3_x"] = models.Post{ExternalID: "t3_x", TenantID: "t1"}

	a := NewAnalyzer(st, &fakeVideos{}, &fakeLLM{err: errors.New("llm down")}, 10, zerolog.Nop())
	if err := a.AnalyzePost(context.Background(), "t3_x"); err == nil {
		t.Fatal("expected error")
	}
	if st.postStatuses["t3_x"] != models.PostAnalyzing {
		t.Fatalf("post should stay analyzing, got %q", st.postStatuses["t3_x"])
	}
}

func TestAnalyzeChannelHappyPath(t *testing.T) {
	st := newFakeStore()
	st.channels["UC1"] = models.Channel{ExternalID: "UC1", Name: "DevTips", SubscriberCount: 150_000, TenantID: "t1"}
	st.brands["t1"] = models.BrandProfile{TenantID: "t1", ProductDescription: "CI platform", TargetAudience: "devs"}

	videos := &fakeVideos{videos: []providers.Video{
		{ExternalID: "v1", ChannelExternalID: "UC1", Title: "Go CI", PublishedAt: time.Now().Add(-24 * time.Hour), ViewCount: 1000, LikeCount: 40, CommentCount: 10},
		{ExternalID: "v2", ChannelExternalID: "UC1", Title: "Docker", PublishedAt: time.Now().Add(-48 * time.Hour), ViewCount: 500, LikeCount: 10, CommentCount: 5},
	}}

	a := NewAnalyzer(st, videos, &fakeLLM{score: 9}, 10, zerolog.Nop())
	if err := a.AnalyzeChannel(context.Background(), "UC1"); err != nil {
		t.Fatalf("analyze channel: %v", err)
	}

	if st.channelStatuses["UC1"] != models.ChannelAnalyzed {
		t.Fatalf("expected analyzed, got %q", st.channelStatuses["UC1"])
	}
	if len(st.videosUpserted) != 2 {
		t.Fatalf("expected 2 upserted videos, got %d", len(st.videosUpserted))
	}
	res := st.channelResults["UC1"]
	if res.RelevanceScore != 9 {
		t.Fatalf("relevance = %d, want 9", res.RelevanceScore)
	}
	if res.ROIScore < 0 || res.ROIScore > 100 {
		t.Fatalf("roi out of bounds: %d", res.ROIScore)
	}
	// (40+10)/1000=5% and (10+5)/500=3% average to 4%.
	if res.EngagementRate == nil || *res.EngagementRate != 4.0 {
		t.Fatalf("engagement = %v, want 4.0", res.EngagementRate)
	}
	if res.AvgViewsPerVideo == nil || *res.AvgViewsPerVideo != 750 {
		t.Fatalf("avg views = %v, want 750", res.AvgViewsPerVideo)
	}
}

func TestAnalyzeChannelMissingBrandProfileFailsLoudly(t *testing.T) {
	st := newFakeStore()
	st.channels["UC1"] = models.Channel{ExternalID: "UC1", TenantID: "t-unconfigured"}

	fl := &fakeLLM{score: 9}
	a := NewAnalyzer(st, &fakeVideos{}, fl, 10, zerolog.Nop())
	err := a.AnalyzeChannel(context.Background(), "UC1")
	if !errors.Is(err, ErrNoBrandProfile) {
		t.Fatalf("expected ErrNoBrandProfile, got %v", err)
	}
	if fl.calls != 0 {
		t.Fatal("llm must not be called without brand context")
	}
	if st.channelStatuses["UC1"] != models.ChannelAnalyzing {
		t.Fatalf("channel should stay analyzing, got %q", st.channelStatuses["UC1"])
	}
}

func TestAnalyzeChannelVideoFetchFailureLeavesAnalyzing(t *testing.T) {
	st := newFakeStore()
	st.channels["UC1"] = models.Channel{ExternalID: "UC1", TenantID: "t1"}
	st.brands["t1"] = models.BrandProfile{TenantID: "t1"}

	a := NewAnalyzer(st, &fakeVideos{err: errors.New("quota")}, &fakeLLM{score: 9}, 10, zerolog.Nop())
	if err := a.AnalyzeChannel(context.Background(), "UC1"); err == nil {
		t.Fatal("expected error")
	}
	if st.channelStatuses["UC1"] != models.ChannelAnalyzing {
		t.Fatalf("channel should stay analyzing, got %q", st.channelStatuses["UC1"])
	}
}
