// Package scoring holds the deterministic relevance/ROI math. Everything here
// is a pure function over already-fetched data.
package scoring

import (
	"fmt"
	"math"
	"time"

	"engagement-pipeline/internal/models"
)

// Factor caps. They sum to 100, so the composite score is 0-100 by
// construction.
const (
	maxAudienceFit       = 35
	maxEngagementQuality = 30
	maxChannelAuthority  = 20
	maxGrowthPotential   = 15
)

// ROI tiers.
const (
	TierExcellent = "excellent"
	TierGood      = "good"
	TierModerate  = "moderate"
	TierLow       = "low"
)

// ROIResult is the composite collaboration-value estimate for a channel.
type ROIResult struct {
	Score          int               `json:"score"`
	Factors        models.ROIFactors `json:"factors"`
	Tier           string            `json:"tier"`
	Recommendation string            `json:"recommendation"`
}

// ComputeROI scores a channel from its stats, recent videos, and the LLM
// relevance score (1-10).
func ComputeROI(ch models.Channel, videos []models.ChannelVideo, relevanceScore int) ROIResult {
	return computeROI(time.Now(), ch, videos, relevanceScore)
}

func computeROI(now time.Time, ch models.Channel, videos []models.ChannelVideo, relevanceScore int) ROIResult {
	factors := models.ROIFactors{
		AudienceFit:       audienceFit(relevanceScore),
		EngagementQuality: engagementQuality(videos),
		ChannelAuthority:  channelAuthority(ch),
		GrowthPotential:   growthPotential(now, videos),
	}
	score := factors.AudienceFit + factors.EngagementQuality + factors.ChannelAuthority + factors.GrowthPotential
	tier := tierFor(score)
	return ROIResult{
		Score:          score,
		Factors:        factors,
		Tier:           tier,
		Recommendation: recommendation(tier, factors),
	}
}

// audienceFit maps the 1-10 relevance scale linearly onto 0-35.
func audienceFit(relevanceScore int) int {
	return int(math.Round(float64(relevanceScore) * 3.5))
}

func engagementQuality(videos []models.ChannelVideo) int {
	if len(videos) == 0 {
		return 15 // neutral default, nothing to judge
	}
	rate := EngagementRate(videos)
	if rate == nil {
		return 10 // videos exist but none have views
	}
	switch {
	case *rate >= 10:
		return 30
	case *rate >= 5:
		return 25
	case *rate >= 3:
		return 20
	case *rate >= 2:
		return 15
	case *rate >= 1:
		return 10
	default:
		return 5
	}
}

func channelAuthority(ch models.Channel) int {
	if ch.HiddenSubscriberCount {
		return 5
	}
	subs := ch.SubscriberCount
	switch {
	case subs >= 1_000_000:
		return 20
	case subs >= 500_000:
		return 18
	case subs >= 100_000:
		return 15
	case subs >= 50_000:
		return 12
	case subs >= 10_000:
		return 8
	case subs >= 1_000:
		return 5
	default:
		return 2
	}
}

func growthPotential(now time.Time, videos []models.ChannelVideo) int {
	if len(videos) == 0 {
		return 5
	}
	cutoff := now.AddDate(0, 0, -30)
	recent := 0
	for _, v := range videos {
		if v.PublishedAt.After(cutoff) {
			recent++
		}
	}
	switch {
	case recent >= 8:
		return 15
	case recent >= 4:
		return 12
	case recent >= 2:
		return 9
	case recent >= 1:
		return 6
	default:
		return 3
	}
}

func tierFor(score int) string {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierModerate
	default:
		return TierLow
	}
}

// recommendation picks a phrase by tier first, then by whichever factor
// dominates (largest share of its cap).
func recommendation(tier string, f models.ROIFactors) string {
	var frame string
	switch tier {
	case TierExcellent:
		frame = "Excellent collaboration target"
	case TierGood:
		frame = "Good collaboration potential"
	case TierModerate:
		frame = "Moderate potential, consider alongside stronger candidates"
	default:
		frame = "Low priority for outreach"
	}

	var qualifier string
	switch dominantFactor(f) {
	case "audienceFit":
		qualifier = "the audience closely matches the brand"
	case "engagementQuality":
		qualifier = "viewers engage heavily with the content"
	case "channelAuthority":
		qualifier = "the channel has established reach"
	default:
		qualifier = "the channel is publishing actively"
	}
	return fmt.Sprintf("%s: %s.", frame, qualifier)
}

// dominantFactor returns the factor with the highest fraction of its cap.
// Ties resolve in audience, engagement, authority, growth order.
func dominantFactor(f models.ROIFactors) string {
	type share struct {
		name  string
		value float64
	}
	shares := []share{
		{"audienceFit", float64(f.AudienceFit) / maxAudienceFit},
		{"engagementQuality", float64(f.EngagementQuality) / maxEngagementQuality},
		{"channelAuthority", float64(f.ChannelAuthority) / maxChannelAuthority},
		{"growthPotential", float64(f.GrowthPotential) / maxGrowthPotential},
	}
	best := shares[0]
	for _, s := range shares[1:] {
		if s.value > best.value {
			best = s
		}
	}
	return best.name
}

// EngagementRate is the mean of (likes+comments)/views across videos with
// nonzero views, as a percentage rounded to 2 decimals. Videos without views
// are excluded from the mean, not treated as zero. Nil when no video
// qualifies.
func EngagementRate(videos []models.ChannelVideo) *float64 {
	var sum float64
	var n int
	for _, v := range videos {
		if v.ViewCount <= 0 {
			continue
		}
		sum += float64(v.LikeCount+v.CommentCount) / float64(v.ViewCount)
		n++
	}
	if n == 0 {
		return nil
	}
	rate := math.Round(sum/float64(n)*100*100) / 100
	return &rate
}

// AvgViewsPerVideo is the simple mean of view counts. Nil when there are no
// videos.
func AvgViewsPerVideo(videos []models.ChannelVideo) *float64 {
	if len(videos) == 0 {
		return nil
	}
	var sum float64
	for _, v := range videos {
		sum += float64(v.ViewCount)
	}
	avg := sum / float64(len(videos))
	return &avg
}
