// Package status tracks job progress documents: cache fast path for frequent
// writes, durable store fallback for crash recovery and cross-process reads.
package status

import (
	"context"
	"fmt"
	"time"

	"engagement-pipeline/internal/cache"
	"engagement-pipeline/internal/models"
)

// JobRecords is the durable side of the dual-write. May be nil, in which case
// the tracker is cache-only.
type JobRecords interface {
	GetJobRecord(ctx context.Context, id string) (models.JobRecord, error)
	SyncJobRecord(ctx context.Context, st models.JobStatus) error
}

// Tracker reads and writes job-status documents with merge semantics. Writes
// are last-write-wins per key; concurrent workers updating disjoint fields
// may interleave, which the merge-based update tolerates.
type Tracker struct {
	cache   *cache.Cache
	records JobRecords
	ttl     time.Duration
	keep    int
}

func NewTracker(c *cache.Cache, records JobRecords, ttl time.Duration, keep int) *Tracker {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if keep <= 0 {
		keep = 20
	}
	return &Tracker{cache: c, records: records, ttl: ttl, keep: keep}
}

func statusKey(jobID string) string {
	return "jobs:status:" + jobID
}

func latestKey(kind, tenantID string) string {
	return fmt.Sprintf("jobs:latest:%s:%s", kind, tenantID)
}

func recentKey(kind string) string {
	return "jobs:recent:" + kind
}

// Init writes the initial pending document for a freshly triggered job,
// points the latest-job pointer at it, and records it in the recent list.
func (t *Tracker) Init(ctx context.Context, st models.JobStatus) error {
	if st.Status == "" {
		st.Status = models.JobPending
	}
	if err := t.cache.SetJSON(ctx, statusKey(st.ID), st, t.ttl); err != nil {
		return err
	}
	if err := t.cache.SetJSON(ctx, latestKey(st.Kind, st.TenantID), st, t.ttl); err != nil {
		return err
	}
	if err := t.cache.PushRecent(ctx, recentKey(st.Kind), st.ID, t.keep); err != nil {
		return err
	}
	if t.records != nil {
		return t.records.SyncJobRecord(ctx, st)
	}
	return nil
}

// Update merges the given partial fields into the job's document and writes
// it back with a fresh TTL. A missing document is synthesized as a default
// pending/zero-progress document first (falling back to the durable record
// when one exists). If the job is also its tenant's latest, the latest-job
// pointer document is refreshed so polling by latest and by id never diverge.
func (t *Tracker) Update(ctx context.Context, jobID string, upd models.StatusUpdate) (models.JobStatus, error) {
	st, found, err := t.Get(ctx, jobID)
	if err != nil {
		return models.JobStatus{}, err
	}
	if !found {
		st = models.JobStatus{ID: jobID, Status: models.JobPending}
	}

	merge(&st, upd)

	if err := t.cache.SetJSON(ctx, statusKey(jobID), st, t.ttl); err != nil {
		return models.JobStatus{}, err
	}

	lk := latestKey(st.Kind, st.TenantID)
	var latest models.JobStatus
	if ok, err := t.cache.GetJSON(ctx, lk, &latest); err == nil && ok && latest.ID == jobID {
		if err := t.cache.SetJSON(ctx, lk, st, t.ttl); err != nil {
			return models.JobStatus{}, err
		}
	}

	if t.records != nil {
		if err := t.records.SyncJobRecord(ctx, st); err != nil {
			return st, fmt.Errorf("sync durable job record: %w", err)
		}
	}
	return st, nil
}

// Get returns a job's status document, preferring the cache and falling back
// to the durable record when the cached copy has expired.
func (t *Tracker) Get(ctx context.Context, jobID string) (models.JobStatus, bool, error) {
	var st models.JobStatus
	found, err := t.cache.GetJSON(ctx, statusKey(jobID), &st)
	if err != nil {
		return models.JobStatus{}, false, err
	}
	if found {
		return st, true, nil
	}
	if t.records == nil {
		return models.JobStatus{}, false, nil
	}
	rec, err := t.records.GetJobRecord(ctx, jobID)
	if err != nil {
		return models.JobStatus{}, false, nil
	}
	return FromRecord(rec), true, nil
}

// Latest returns the most recently triggered job's document for a pipeline
// and tenant.
func (t *Tracker) Latest(ctx context.Context, kind, tenantID string) (models.JobStatus, bool, error) {
	var st models.JobStatus
	found, err := t.cache.GetJSON(ctx, latestKey(kind, tenantID), &st)
	if err != nil || !found {
		return models.JobStatus{}, false, err
	}
	return st, true, nil
}

// Recent returns documents for recently triggered jobs, most recent first.
// Jobs whose documents expired and have no durable record are skipped.
func (t *Tracker) Recent(ctx context.Context, kind string, count int) ([]models.JobStatus, error) {
	ids, err := t.cache.Recent(ctx, recentKey(kind), count)
	if err != nil {
		return nil, err
	}
	out := make([]models.JobStatus, 0, len(ids))
	for _, id := range ids {
		st, found, err := t.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, st)
		}
	}
	return out, nil
}

// FromRecord rebuilds a status document from the durable job row, mapping the
// stored item count to the pipeline's count field.
func FromRecord(rec models.JobRecord) models.JobStatus {
	st := models.JobStatus{
		ID:          rec.ID,
		Kind:        rec.Kind,
		TenantID:    rec.TenantID,
		Status:      rec.Status,
		Progress:    rec.Progress,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.LastError != nil {
		st.Error = *rec.LastError
	}
	items := rec.ItemsFound
	if rec.Kind == models.KindYouTubeDiscovery {
		st.ChannelsFound = &items
	} else {
		st.DiscoveredCount = &items
	}
	return st
}

func merge(st *models.JobStatus, upd models.StatusUpdate) {
	if upd.Status != nil {
		st.Status = *upd.Status
	}
	if upd.Progress != nil {
		st.Progress = *upd.Progress
	}
	if upd.DiscoveredCount != nil {
		st.DiscoveredCount = upd.DiscoveredCount
	}
	if upd.ChannelsFound != nil {
		st.ChannelsFound = upd.ChannelsFound
	}
	if upd.Error != nil {
		st.Error = *upd.Error
	}
	if upd.StartedAt != nil {
		st.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		st.CompletedAt = upd.CompletedAt
	}
}

// Helpers for building partial updates without intermediate variables.

func StrPtr(v string) *string { return &v }
func IntPtr(v int) *int       { return &v }

func TimePtr(v time.Time) *time.Time { return &v }
