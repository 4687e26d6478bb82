package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-pipeline/internal/cache"
	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/ratelimit"
	"engagement-pipeline/internal/scheduler"
	"engagement-pipeline/internal/store"
)

type fakeService struct {
	triggered []models.DiscoveryRequest
	kinds     []string
	statuses  map[string]models.JobStatus
}

func (f *fakeService) TriggerFetch(_ context.Context, req models.DiscoveryRequest) (string, error) {
	f.triggered = append(f.triggered, req)
	f.kinds = append(f.kinds, models.KindDiscovery)
	return "job-reddit", nil
}

func (f *fakeService) TriggerYouTubeFetch(_ context.Context, req models.DiscoveryRequest) (string, error) {
	f.triggered = append(f.triggered, req)
	f.kinds = append(f.kinds, models.KindYouTubeDiscovery)
	return "job-youtube", nil
}

func (f *fakeService) GetJobStatus(_ context.Context, jobID string) (models.JobStatus, bool, error) {
	st, ok := f.statuses[jobID]
	return st, ok, nil
}

func (f *fakeService) GetLatestJob(_ context.Context, kind, _ string) (models.JobStatus, bool, error) {
	for _, st := range f.statuses {
		if st.Kind == kind {
			return st, true, nil
		}
	}
	return models.JobStatus{}, false, nil
}

func (f *fakeService) GetRecentJobs(_ context.Context, kind string) ([]models.JobStatus, error) {
	var out []models.JobStatus
	for _, st := range f.statuses {
		if st.Kind == kind {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeAPIAnalyzer struct{ posts, channels []string }

func (f *fakeAPIAnalyzer) AnalyzePost(_ context.Context, id string) error {
	if id == "missing" {
		return store.ErrNotFound
	}
	f.posts = append(f.posts, id)
	return nil
}

func (f *fakeAPIAnalyzer) AnalyzeChannel(_ context.Context, id string) error {
	f.channels = append(f.channels, id)
	return nil
}

type fakeResults struct{}

func (fakeResults) GetPost(_ context.Context, id string) (models.Post, error) {
	if id == "missing" {
		return models.Post{}, store.ErrNotFound
	}
	return models.Post{ExternalID: id, Title: "a post"}, nil
}

func (fakeResults) GetChannel(_ context.Context, id string) (models.Channel, error) {
	return models.Channel{ExternalID: id, Name: "a channel"}, nil
}

type fakeSched struct{}

func (fakeSched) GetScheduleInfo(context.Context) (scheduler.ScheduleInfo, error) {
	return scheduler.ScheduleInfo{
		Schedules:   []models.RecurringSchedule{{Name: "auto-discovery", Interval: 2 * time.Hour}},
		PendingJobs: 3,
	}, nil
}

type fakeDLQ struct{ items []string }

func (f fakeDLQ) DLQPeek(context.Context, int64) ([]string, error) { return f.items, nil }

func newTestServer(t *testing.T, svc *fakeService, an *fakeAPIAnalyzer, capacity int) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(
		config.Config{},
		svc,
		an,
		fakeResults{},
		fakeSched{},
		fakeDLQ{items: []string{"dead-1"}},
		ratelimit.NewTokenBucket(client, capacity, 1, time.Minute),
		cache.New(client),
		zerolog.Nop(),
	)
}

func TestTriggerReturnsAccepted(t *testing.T) {
	svc := &fakeService{statuses: map[string]models.JobStatus{}}
	srv := newTestServer(t, svc, &fakeAPIAnalyzer{}, 10)

	body := strings.NewReader(`{"subreddits":["golang"],"keywords":["testing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/discovery/trigger", body)
	req.Header.Set("X-Tenant-ID", "acme")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	var resp triggerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-reddit" || resp.Status != models.JobPending {
		t.Errorf("response = %+v", resp)
	}
	if len(svc.triggered) != 1 || svc.triggered[0].TenantID != "acme" {
		t.Errorf("triggered = %+v", svc.triggered)
	}
}

func TestTriggerRateLimited(t *testing.T) {
	svc := &fakeService{statuses: map[string]models.JobStatus{}}
	srv := newTestServer(t, svc, &fakeAPIAnalyzer{}, 1)
	router := srv.Router()

	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/youtube/trigger", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i, rr.Code, want)
		}
	}
	if len(svc.kinds) != 1 || svc.kinds[0] != models.KindYouTubeDiscovery {
		t.Errorf("kinds = %v", svc.kinds)
	}
}

func TestGetJobStatusRoundtrip(t *testing.T) {
	started := time.Now().UTC().Truncate(time.Second)
	count := 7
	svc := &fakeService{statuses: map[string]models.JobStatus{
		"j1": {ID: "j1", Kind: models.KindDiscovery, Status: models.JobRunning, Progress: 40, DiscoveredCount: &count, StartedAt: &started},
	}}
	srv := newTestServer(t, svc, &fakeAPIAnalyzer{}, 10)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/discovery/jobs/j1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st models.JobStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Progress != 40 || st.DiscoveredCount == nil || *st.DiscoveredCount != 7 {
		t.Errorf("status = %+v", st)
	}

	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/discovery/jobs/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", rr.Code)
	}
}

func TestManualAnalyzeEndpoints(t *testing.T) {
	an := &fakeAPIAnalyzer{}
	srv := newTestServer(t, &fakeService{statuses: map[string]models.JobStatus{}}, an, 10)
	router := srv.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/posts/t3_1/analyze", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("post analyze status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/posts/missing/analyze", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing post analyze status = %d, want 404", rr.Code)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/youtube/channels/UC1/analyze", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("channel analyze status = %d", rr.Code)
	}

	if len(an.posts) != 1 || an.posts[0] != "t3_1" {
		t.Errorf("posts analyzed = %v", an.posts)
	}
	if len(an.channels) != 1 || an.channels[0] != "UC1" {
		t.Errorf("channels analyzed = %v", an.channels)
	}
}

func TestScheduleAndDLQEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeService{statuses: map[string]models.JobStatus{}}, &fakeAPIAnalyzer{}, 10)
	router := srv.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/schedule", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule status = %d", rr.Code)
	}
	var info scheduler.ScheduleInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if len(info.Schedules) != 1 || info.PendingJobs != 3 {
		t.Errorf("schedule info = %+v", info)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "dead-1") {
		t.Fatalf("dlq response: %d %s", rr.Code, rr.Body.String())
	}
}

func TestOAuthStateRoundtrip(t *testing.T) {
	srv := newTestServer(t, &fakeService{statuses: map[string]models.JobStatus{}}, &fakeAPIAnalyzer{}, 10)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/youtube/start", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d", rr.Code)
	}
	var issued map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/youtube/callback?state="+issued["state"], nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "acme") {
		t.Fatalf("callback: %d %s", rr.Code, rr.Body.String())
	}

	// Single use: the same state is rejected on replay.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/youtube/callback?state="+issued["state"], nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("replayed state status = %d, want 403", rr.Code)
	}
}
