package models

import (
	"time"
)

// Job kinds routed through the work queue.
const (
	KindDiscovery        = "discovery"
	KindYouTubeDiscovery = "youtube_discovery"
)

// JobStatus lifecycle states. A job becomes terminal (completed or failed)
// exactly once.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Post workflow states. The pipeline writes discovered, analyzing,
// draft_ready and rejected; the review workflow owns the rest.
const (
	PostDiscovered = "discovered"
	PostAnalyzing  = "analyzing"
	PostDraftReady = "draft_ready"
	PostRejected   = "rejected"
	PostInReview   = "in_review"
	PostApproved   = "approved"
	PostPublished  = "published"
	PostFailed     = "failed"
)

// Channel workflow states. The pipeline writes discovered, analyzing and
// analyzed; shortlisting/contacting is a human step.
const (
	ChannelDiscovered  = "discovered"
	ChannelAnalyzing   = "analyzing"
	ChannelAnalyzed    = "analyzed"
	ChannelShortlisted = "shortlisted"
	ChannelContacted   = "contacted"
	ChannelRejected    = "rejected"
)

// JobStatus is the polling document external callers depend on. Count fields
// are pointers so the document for one pipeline never carries the other's
// count key, and so merge updates can distinguish "absent" from zero.
type JobStatus struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	TenantID        string     `json:"tenantId,omitempty"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	DiscoveredCount *int       `json:"discoveredCount,omitempty"`
	ChannelsFound   *int       `json:"channelsFound,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// StatusUpdate is a partial JobStatus; nil fields are left untouched by the
// tracker's merge.
type StatusUpdate struct {
	Status          *string
	Progress        *int
	DiscoveredCount *int
	ChannelsFound   *int
	Error           *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// DiscoveryRequest is the unit-of-work payload persisted with a job record.
// Empty Subreddits/Keywords mean "resolve the active configuration at run
// time".
type DiscoveryRequest struct {
	Subreddits    []string `json:"subreddits,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	MaxPerKeyword int      `json:"max_per_keyword,omitempty"`
	TenantID      string   `json:"tenant_id,omitempty"`
}

// JobRecord is the durable copy of a job, authoritative when the cached
// status document has expired.
type JobRecord struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	TenantID    string           `json:"tenant_id"`
	Request     DiscoveryRequest `json:"request"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"`
	ItemsFound  int              `json:"items_found"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	LastError   *string          `json:"last_error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Post is a discovered engagement item. ExternalID is unique across the
// store; re-discovery of the same post is a no-op.
type Post struct {
	ID             string         `json:"id"`
	ExternalID     string         `json:"external_id"`
	Subreddit      string         `json:"subreddit"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	URL            string         `json:"url"`
	Author         string         `json:"author"`
	Score          int            `json:"score"`
	PostedAt       time.Time      `json:"posted_at"`
	MatchedKeyword string         `json:"matched_keyword"`
	Status         string         `json:"status"`
	RelevanceScore *int           `json:"relevance_score,omitempty"`
	Recommended    bool           `json:"recommended"`
	Analysis       map[string]any `json:"analysis,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Channel is a discovered YouTube channel. ExternalID is unique across the
// store.
type Channel struct {
	ID                    string      `json:"id"`
	ExternalID            string      `json:"external_id"`
	Name                  string      `json:"name"`
	Description           string      `json:"description"`
	SubscriberCount       int64       `json:"subscriber_count"`
	HiddenSubscriberCount bool        `json:"hidden_subscriber_count"`
	VideoCount            int64       `json:"video_count"`
	ViewCount             int64       `json:"view_count"`
	DiscoveryKeyword      string      `json:"discovery_keyword"`
	Status                string      `json:"status"`
	RelevanceScore        *int        `json:"relevance_score,omitempty"`
	ROIScore              *int        `json:"roi_score,omitempty"`
	ROIFactors            *ROIFactors `json:"roi_factors,omitempty"`
	EngagementRate        *float64    `json:"engagement_rate,omitempty"`
	AvgViewsPerVideo      *float64    `json:"avg_views_per_video,omitempty"`
	TenantID              string      `json:"tenant_id,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// ChannelVideo is a recent video snapshot. Title and PublishedAt are fixed on
// first insert; the counters refresh on every upsert.
type ChannelVideo struct {
	ExternalID        string    `json:"external_id"`
	ChannelExternalID string    `json:"channel_external_id"`
	Title             string    `json:"title"`
	PublishedAt       time.Time `json:"published_at"`
	ViewCount         int64     `json:"view_count"`
	LikeCount         int64     `json:"like_count"`
	CommentCount      int64     `json:"comment_count"`
}

// ROIFactors is the per-factor breakdown of a channel's ROI score. The caps
// (35+30+20+15) sum to 100 by construction.
type ROIFactors struct {
	AudienceFit       int `json:"audienceFit"`
	EngagementQuality int `json:"engagementQuality"`
	ChannelAuthority  int `json:"channelAuthority"`
	GrowthPotential   int `json:"growthPotential"`
}

// BrandProfile is the tenant context required by channel relevance analysis.
type BrandProfile struct {
	TenantID           string `json:"tenant_id"`
	ProductDescription string `json:"product_description"`
	TargetAudience     string `json:"target_audience"`
}

// RecurringSchedule describes one registered recurring entry, for
// observability only.
type RecurringSchedule struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	NextRunAt time.Time     `json:"next_run_at"`
}
