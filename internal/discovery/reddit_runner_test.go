package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"engagement-pipeline/internal/models"
	"engagement-pipeline/internal/providers"
)

type fakeRunnerStore struct {
	mu         sync.Mutex
	posts      map[string]models.Post
	subreddits []string
	keywords   []string
	insertErr  error
}

func newFakeRunnerStore() *fakeRunnerStore {
	return &fakeRunnerStore{posts: make(map[string]models.Post)}
}

func (f *fakeRunnerStore) InsertPostIfNew(_ context.Context, p models.Post) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.posts[p.ExternalID]; ok {
		return false, nil
	}
	f.posts[p.ExternalID] = p
	return true, nil
}

func (f *fakeRunnerStore) ActiveSubreddits(context.Context) ([]string, error) {
	return f.subreddits, nil
}

func (f *fakeRunnerStore) ActiveKeywords(_ context.Context, _ string) ([]string, error) {
	return f.keywords, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]providers.RedditPost // key: subreddit|keyword
	errs    map[string]error
	calls   []string
}

func (f *fakeSearch) Search(_ context.Context, subreddit, query string, _ int) ([]providers.RedditPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := subreddit + "|" + query
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.results[key], nil
}

type fakeAnalyzer struct {
	mu  sync.Mutex
	ids []string
	wg  sync.WaitGroup
}

func (f *fakeAnalyzer) AnalyzePost(_ context.Context, externalID string) error {
	f.mu.Lock()
	f.ids = append(f.ids, externalID)
	f.mu.Unlock()
	f.wg.Done()
	return nil
}

// recordingTracker captures every status update so tests can assert on the
// full progress sequence.
type recordingTracker struct {
	mu      sync.Mutex
	updates []models.StatusUpdate
}

func (r *recordingTracker) Update(_ context.Context, _ string, upd models.StatusUpdate) (models.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	return models.JobStatus{}, nil
}

func (r *recordingTracker) progressSeq() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seq []int
	for _, u := range r.updates {
		if u.Progress != nil {
			seq = append(seq, *u.Progress)
		}
	}
	return seq
}

func (r *recordingTracker) finalStatus() (string, models.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Status != nil {
			return *r.updates[i].Status, r.updates[i]
		}
	}
	return "", models.StatusUpdate{}
}

func redditPost(id string) providers.RedditPost {
	return providers.RedditPost{
		ExternalID: id,
		Subreddit:  "golang",
		Title:      "post " + id,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestRunner(st *fakeRunnerStore, search *fakeSearch, an *fakeAnalyzer, tr *recordingTracker) *Runner {
	// High rate so the limiter never blocks in tests.
	return NewRunner(st, search, an, tr, 600000, zerolog.Nop())
}

func TestRunnerDedupFirstKeywordWins(t *testing.T) {
	st := newFakeRunnerStore()
	search := &fakeSearch{results: map[string][]providers.RedditPost{
		"golang|alpha": {redditPost("t3_1")},
		"golang|beta":  {redditPost("t3_1"), redditPost("t3_2")},
	}}
	an := &fakeAnalyzer{}
	an.wg.Add(2)
	tr := &recordingTracker{}

	rec := models.JobRecord{
		ID:   "job-1",
		Kind: models.KindDiscovery,
		Request: models.DiscoveryRequest{
			Subreddits: []string{"golang"},
			Keywords:   []string{"alpha", "beta"},
			Limit:      25,
		},
	}
	if err := newTestRunner(st, search, an, tr).Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	an.wg.Wait()

	if got := st.posts["t3_1"].MatchedKeyword; got != "alpha" {
		t.Errorf("matched keyword = %q, want alpha", got)
	}
	if len(st.posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(st.posts))
	}
	if len(an.ids) != 2 {
		t.Errorf("analyzer invoked %d times, want 2", len(an.ids))
	}

	final, upd := tr.finalStatus()
	if final != models.JobCompleted {
		t.Fatalf("final status = %q, want completed", final)
	}
	if upd.DiscoveredCount == nil || *upd.DiscoveredCount != 2 {
		t.Errorf("discovered count = %v, want 2", upd.DiscoveredCount)
	}
}

func TestRunnerIsolatesSearchFailures(t *testing.T) {
	st := newFakeRunnerStore()
	search := &fakeSearch{
		results: map[string][]providers.RedditPost{
			"golang|beta": {redditPost("t3_9")},
		},
		errs: map[string]error{
			"golang|alpha": errors.New("rate limited"),
		},
	}
	an := &fakeAnalyzer{}
	an.wg.Add(1)
	tr := &recordingTracker{}

	rec := models.JobRecord{
		ID: "job-2",
		Request: models.DiscoveryRequest{
			Subreddits: []string{"golang"},
			Keywords:   []string{"alpha", "beta"},
		},
	}
	if err := newTestRunner(st, search, an, tr).Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	an.wg.Wait()

	final, upd := tr.finalStatus()
	if final != models.JobCompleted {
		t.Fatalf("final status = %q, want completed despite pair failure", final)
	}
	if upd.DiscoveredCount == nil || *upd.DiscoveredCount != 1 {
		t.Errorf("discovered count = %v, want 1", upd.DiscoveredCount)
	}
}

func TestRunnerProgressSequence(t *testing.T) {
	st := newFakeRunnerStore()
	search := &fakeSearch{}
	tr := &recordingTracker{}

	rec := models.JobRecord{
		ID: "job-3",
		Request: models.DiscoveryRequest{
			Subreddits: []string{"a", "b"},
			Keywords:   []string{"x", "y", "z"},
		},
	}
	if err := newTestRunner(st, search, &fakeAnalyzer{}, tr).Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 6 pairs: round(100*k/6) per tick, start at 0, end at 100.
	want := []int{0, 17, 33, 50, 67, 83, 100, 100}
	got := tr.progressSeq()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("progress sequence = %v, want %v", got, want)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("progress regressed at %d: %v", i, got)
		}
	}
}

func TestRunnerZeroTargetsCompletes(t *testing.T) {
	st := newFakeRunnerStore() // no active config, request empty
	search := &fakeSearch{}
	tr := &recordingTracker{}

	rec := models.JobRecord{ID: "job-4", Request: models.DiscoveryRequest{}}
	if err := newTestRunner(st, search, &fakeAnalyzer{}, tr).Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(search.calls) != 0 {
		t.Errorf("expected no searches, got %d", len(search.calls))
	}
	final, upd := tr.finalStatus()
	if final != models.JobCompleted {
		t.Fatalf("final status = %q, want completed", final)
	}
	if upd.DiscoveredCount == nil || *upd.DiscoveredCount != 0 {
		t.Errorf("discovered count = %v, want 0", upd.DiscoveredCount)
	}
}

func TestRunnerUsesActiveConfigWhenRequestEmpty(t *testing.T) {
	st := newFakeRunnerStore()
	st.subreddits = []string{"golang"}
	st.keywords = []string{"alpha"}
	search := &fakeSearch{}
	tr := &recordingTracker{}

	rec := models.JobRecord{ID: "job-5", Request: models.DiscoveryRequest{}}
	if err := newTestRunner(st, search, &fakeAnalyzer{}, tr).Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(search.calls) != 1 || search.calls[0] != "golang|alpha" {
		t.Errorf("calls = %v, want [golang|alpha]", search.calls)
	}
}
