package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"engagement-pipeline/internal/models"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertPostIfNew persists a discovered post unless its external id is
// already known. The unique constraint on external_id is the concurrency
// guard: a conflicting insert from a concurrent worker is the expected
// outcome of a race, reported as inserted=false, never as an error.
func (s *Store) InsertPostIfNew(ctx context.Context, p models.Post) (bool, error) {
	analysisJSON, err := marshalNullable(p.Analysis)
	if err != nil {
		return false, fmt.Errorf("marshal post analysis: %w", err)
	}
	status := p.Status
	if status == "" {
		status = models.PostDiscovered
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, external_id, subreddit, title, body, url, author, score, posted_at,
			matched_keyword, status, relevance_score, recommended, analysis, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, uuid.New().String(), p.ExternalID, p.Subreddit, p.Title, p.Body, p.URL, p.Author, p.Score,
		p.PostedAt, p.MatchedKeyword, status, p.RelevanceScore, p.Recommended, analysisJSON, p.TenantID)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetPostStatus transitions a post's workflow status.
func (s *Store) SetPostStatus(ctx context.Context, externalID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts SET status = $2, updated_at = NOW() WHERE external_id = $1
	`, externalID, status)
	return err
}

// UpdatePostAnalysis records the scoring outcome for a post.
func (s *Store) UpdatePostAnalysis(ctx context.Context, externalID string, relevance int, recommended bool, status string, analysis map[string]any) error {
	analysisJSON, err := marshalNullable(analysis)
	if err != nil {
		return fmt.Errorf("marshal post analysis: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE posts
		SET relevance_score = $2, recommended = $3, status = $4, analysis = $5, updated_at = NOW()
		WHERE external_id = $1
	`, externalID, relevance, recommended, status, analysisJSON)
	return err
}

// GetPost fetches a post by external id.
func (s *Store) GetPost(ctx context.Context, externalID string) (models.Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, external_id, subreddit, title, body, url, author, score, posted_at,
			matched_keyword, status, relevance_score, recommended, analysis, tenant_id, created_at, updated_at
		FROM posts WHERE external_id = $1
	`, externalID)

	var p models.Post
	var relevance pgtype.Int4
	var analysisJSON []byte
	err := row.Scan(&p.ID, &p.ExternalID, &p.Subreddit, &p.Title, &p.Body, &p.URL, &p.Author, &p.Score,
		&p.PostedAt, &p.MatchedKeyword, &p.Status, &relevance, &p.Recommended, &analysisJSON, &p.TenantID,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("scan post: %w", err)
	}
	p.RelevanceScore = int4Ptr(relevance)
	if len(analysisJSON) > 0 {
		if err := json.Unmarshal(analysisJSON, &p.Analysis); err != nil {
			return models.Post{}, fmt.Errorf("unmarshal post analysis: %w", err)
		}
	}
	return p, nil
}

// InsertChannelIfNew persists a discovered channel unless its external id is
// already known. Same race semantics as InsertPostIfNew.
func (s *Store) InsertChannelIfNew(ctx context.Context, c models.Channel) (bool, error) {
	status := c.Status
	if status == "" {
		status = models.ChannelDiscovered
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO channels (id, external_id, name, description, subscriber_count, hidden_subscriber_count,
			video_count, view_count, discovery_keyword, status, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, uuid.New().String(), c.ExternalID, c.Name, c.Description, c.SubscriberCount, c.HiddenSubscriberCount,
		c.VideoCount, c.ViewCount, c.DiscoveryKeyword, status, c.TenantID)
	if err != nil {
		return false, fmt.Errorf("insert channel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetChannelStatus transitions a channel's workflow status.
func (s *Store) SetChannelStatus(ctx context.Context, externalID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channels SET status = $2, updated_at = NOW() WHERE external_id = $1
	`, externalID, status)
	return err
}

// GetChannel fetches a channel by external id.
func (s *Store) GetChannel(ctx context.Context, externalID string) (models.Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, external_id, name, description, subscriber_count, hidden_subscriber_count,
			video_count, view_count, discovery_keyword, status, relevance_score, roi_score, roi_factors,
			engagement_rate, avg_views_per_video, tenant_id, created_at, updated_at
		FROM channels WHERE external_id = $1
	`, externalID)

	var c models.Channel
	var relevance, roiScore pgtype.Int4
	var factorsJSON []byte
	var engagement, avgViews pgtype.Float8
	err := row.Scan(&c.ID, &c.ExternalID, &c.Name, &c.Description, &c.SubscriberCount, &c.HiddenSubscriberCount,
		&c.VideoCount, &c.ViewCount, &c.DiscoveryKeyword, &c.Status, &relevance, &roiScore, &factorsJSON,
		&engagement, &avgViews, &c.TenantID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Channel{}, ErrNotFound
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("scan channel: %w", err)
	}
	c.RelevanceScore = int4Ptr(relevance)
	c.ROIScore = int4Ptr(roiScore)
	if len(factorsJSON) > 0 {
		var f models.ROIFactors
		if err := json.Unmarshal(factorsJSON, &f); err != nil {
			return models.Channel{}, fmt.Errorf("unmarshal roi factors: %w", err)
		}
		c.ROIFactors = &f
	}
	if engagement.Valid {
		c.EngagementRate = &engagement.Float64
	}
	if avgViews.Valid {
		c.AvgViewsPerVideo = &avgViews.Float64
	}
	return c, nil
}

// ChannelAnalysisResult collects everything the analysis pipeline persists in
// one write when it marks a channel analyzed.
type ChannelAnalysisResult struct {
	RelevanceScore   int
	ROIScore         int
	ROIFactors       models.ROIFactors
	EngagementRate   *float64
	AvgViewsPerVideo *float64
}

// SaveChannelAnalysis persists the analysis outcome and marks the channel
// analyzed.
func (s *Store) SaveChannelAnalysis(ctx context.Context, externalID string, r ChannelAnalysisResult) error {
	factorsJSON, err := json.Marshal(r.ROIFactors)
	if err != nil {
		return fmt.Errorf("marshal roi factors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE channels
		SET relevance_score = $2, roi_score = $3, roi_factors = $4, engagement_rate = $5,
			avg_views_per_video = $6, status = $7, updated_at = NOW()
		WHERE external_id = $1
	`, externalID, r.RelevanceScore, r.ROIScore, factorsJSON, r.EngagementRate, r.AvgViewsPerVideo, models.ChannelAnalyzed)
	return err
}

// UpsertChannelVideo inserts a video snapshot or refreshes its mutable
// counters. Title and published_at stay as first inserted.
func (s *Store) UpsertChannelVideo(ctx context.Context, v models.ChannelVideo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_videos (external_id, channel_external_id, title, published_at,
			view_count, like_count, comment_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE
		SET view_count = EXCLUDED.view_count,
			like_count = EXCLUDED.like_count,
			comment_count = EXCLUDED.comment_count,
			updated_at = NOW()
	`, v.ExternalID, v.ChannelExternalID, v.Title, v.PublishedAt, v.ViewCount, v.LikeCount, v.CommentCount)
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

// ChannelVideos returns the stored video snapshots for a channel, newest first.
func (s *Store) ChannelVideos(ctx context.Context, channelExternalID string, limit int) ([]models.ChannelVideo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_id, channel_external_id, title, published_at, view_count, like_count, comment_count
		FROM channel_videos WHERE channel_external_id = $1
		ORDER BY published_at DESC LIMIT $2
	`, channelExternalID, limit)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelVideo
	for rows.Next() {
		var v models.ChannelVideo
		if err := rows.Scan(&v.ExternalID, &v.ChannelExternalID, &v.Title, &v.PublishedAt,
			&v.ViewCount, &v.LikeCount, &v.CommentCount); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ActiveSubreddits returns the names of all active subreddits.
func (s *Store) ActiveSubreddits(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM subreddits WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query subreddits: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ActiveKeywords returns active keyword terms, scoped to a tenant when one is
// given.
func (s *Store) ActiveKeywords(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT term FROM keywords WHERE active AND ($1 = '' OR tenant_id = $1) ORDER BY term
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ActiveConfigCounts reports how many active keywords and subreddits exist,
// for the scheduler's skip-when-empty check.
func (s *Store) ActiveConfigCounts(ctx context.Context) (keywords, subreddits int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM keywords WHERE active),
			(SELECT COUNT(*) FROM subreddits WHERE active)
	`).Scan(&keywords, &subreddits)
	if err != nil {
		return 0, 0, fmt.Errorf("count active config: %w", err)
	}
	return keywords, subreddits, nil
}

// GetBrandProfile returns the tenant brand context required by channel
// relevance analysis.
func (s *Store) GetBrandProfile(ctx context.Context, tenantID string) (models.BrandProfile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, product_description, target_audience FROM brand_profiles WHERE tenant_id = $1
	`, tenantID)
	var b models.BrandProfile
	err := row.Scan(&b.TenantID, &b.ProductDescription, &b.TargetAudience)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BrandProfile{}, ErrNotFound
	}
	if err != nil {
		return models.BrandProfile{}, fmt.Errorf("scan brand profile: %w", err)
	}
	return b, nil
}

// CreateJobRecord inserts the durable copy of a freshly triggered job.
func (s *Store) CreateJobRecord(ctx context.Context, rec models.JobRecord) error {
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if rec.MaxAttempts == 0 {
		rec.MaxAttempts = 3
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO discovery_jobs (id, kind, tenant_id, request, status, progress, items_found,
			attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, NOW(), NOW())
	`, rec.ID, rec.Kind, rec.TenantID, reqJSON, models.JobPending, rec.MaxAttempts)
	if err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

// GetJobRecord fetches a durable job record by id.
func (s *Store) GetJobRecord(ctx context.Context, id string) (models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, tenant_id, request, status, progress, items_found, attempts, max_attempts,
			last_error, started_at, completed_at, created_at, updated_at
		FROM discovery_jobs WHERE id = $1
	`, id)

	var rec models.JobRecord
	var reqJSON []byte
	var lastErr pgtype.Text
	var started, completed pgtype.Timestamptz
	err := row.Scan(&rec.ID, &rec.Kind, &rec.TenantID, &reqJSON, &rec.Status, &rec.Progress, &rec.ItemsFound,
		&rec.Attempts, &rec.MaxAttempts, &lastErr, &started, &completed, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("scan job record: %w", err)
	}
	if err := json.Unmarshal(reqJSON, &rec.Request); err != nil {
		return models.JobRecord{}, fmt.Errorf("unmarshal request: %w", err)
	}
	rec.LastError = textPtr(lastErr)
	rec.StartedAt = tsPtr(started)
	rec.CompletedAt = tsPtr(completed)
	return rec, nil
}

// SyncJobRecord mirrors a status document into the durable job row so status
// survives cache eviction.
func (s *Store) SyncJobRecord(ctx context.Context, st models.JobStatus) error {
	items := 0
	if st.DiscoveredCount != nil {
		items = *st.DiscoveredCount
	}
	if st.ChannelsFound != nil {
		items = *st.ChannelsFound
	}
	var lastErr *string
	if st.Error != "" {
		lastErr = &st.Error
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs
		SET status = $2, progress = $3, items_found = $4, last_error = $5,
			started_at = COALESCE($6, started_at), completed_at = COALESCE($7, completed_at), updated_at = NOW()
		WHERE id = $1
	`, st.ID, st.Status, st.Progress, items, lastErr, st.StartedAt, st.CompletedAt)
	return err
}

// UpdateJobAttempts records a failed attempt ahead of a queue-level retry.
func (s *Store) UpdateJobAttempts(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE discovery_jobs SET attempts = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, attempts, lastErr)
	return err
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func int4Ptr(v pgtype.Int4) *int {
	if v.Valid {
		i := int(v.Int32)
		return &i
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
