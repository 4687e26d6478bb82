package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"engagement-pipeline/internal/config"
)

// ChannelSummary is a channel search hit before details are fetched.
type ChannelSummary struct {
	ExternalID  string
	Name        string
	Description string
}

// ChannelDetails carries the statistics needed for ROI scoring.
type ChannelDetails struct {
	ExternalID            string
	Name                  string
	Description           string
	SubscriberCount       int64
	HiddenSubscriberCount bool
	VideoCount            int64
	ViewCount             int64
}

// Video is one recent upload with engagement counters.
type Video struct {
	ExternalID        string
	ChannelExternalID string
	Title             string
	PublishedAt       time.Time
	ViewCount         int64
	LikeCount         int64
	CommentCount      int64
}

// YouTubeClient queries the YouTube Data API v3.
type YouTubeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewYouTubeClient(cfg config.Config) *YouTubeClient {
	return &YouTubeClient{
		httpClient: newHTTPClient(),
		baseURL:    cfg.YouTubeBaseURL,
		apiKey:     cfg.YouTubeAPIKey,
	}
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			ChannelID string `json:"channelId"`
			VideoID   string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			ChannelID   string `json:"channelId"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytChannelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount       string `json:"subscriberCount"`
			HiddenSubscriberCount bool   `json:"hiddenSubscriberCount"`
			VideoCount            string `json:"videoCount"`
			ViewCount             string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type ytVideosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string    `json:"title"`
			PublishedAt time.Time `json:"publishedAt"`
			ChannelID   string    `json:"channelId"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// SearchChannels finds channels matching a keyword.
func (c *YouTubeClient) SearchChannels(ctx context.Context, keyword string, maxResults int) ([]ChannelSummary, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "channel")
	q.Set("q", keyword)
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("key", c.apiKey)

	var resp ytSearchResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/search?"+q.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("youtube channel search %q: %w", keyword, err)
	}

	out := make([]ChannelSummary, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.ChannelID == "" {
			continue
		}
		out = append(out, ChannelSummary{
			ExternalID:  item.ID.ChannelID,
			Name:        item.Snippet.Title,
			Description: item.Snippet.Description,
		})
	}
	return out, nil
}

// GetChannelDetails batch-fetches statistics for the given channel ids.
func (c *YouTubeClient) GetChannelDetails(ctx context.Context, ids []string) ([]ChannelDetails, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("part", "snippet,statistics")
	q.Set("id", strings.Join(ids, ","))
	q.Set("key", c.apiKey)

	var resp ytChannelsResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/channels?"+q.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("youtube channel details: %w", err)
	}

	out := make([]ChannelDetails, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, ChannelDetails{
			ExternalID:            item.ID,
			Name:                  item.Snippet.Title,
			Description:           item.Snippet.Description,
			SubscriberCount:       parseCount(item.Statistics.SubscriberCount),
			HiddenSubscriberCount: item.Statistics.HiddenSubscriberCount,
			VideoCount:            parseCount(item.Statistics.VideoCount),
			ViewCount:             parseCount(item.Statistics.ViewCount),
		})
	}
	return out, nil
}

// GetChannelVideos fetches a channel's most recent uploads with statistics.
func (c *YouTubeClient) GetChannelVideos(ctx context.Context, channelID string, maxResults int) ([]Video, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("channelId", channelID)
	q.Set("order", "date")
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("key", c.apiKey)

	var search ytSearchResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/search?"+q.Encode(), "", &search); err != nil {
		return nil, fmt.Errorf("youtube video search for %s: %w", channelID, err)
	}

	videoIDs := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.ID.VideoID != "" {
			videoIDs = append(videoIDs, item.ID.VideoID)
		}
	}
	if len(videoIDs) == 0 {
		return nil, nil
	}

	vq := url.Values{}
	vq.Set("part", "snippet,statistics")
	vq.Set("id", strings.Join(videoIDs, ","))
	vq.Set("key", c.apiKey)

	var resp ytVideosResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/videos?"+vq.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("youtube video details for %s: %w", channelID, err)
	}

	out := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, Video{
			ExternalID:        item.ID,
			ChannelExternalID: channelID,
			Title:             item.Snippet.Title,
			PublishedAt:       item.Snippet.PublishedAt,
			ViewCount:         parseCount(item.Statistics.ViewCount),
			LikeCount:         parseCount(item.Statistics.LikeCount),
			CommentCount:      parseCount(item.Statistics.CommentCount),
		})
	}
	return out, nil
}

// parseCount tolerates the API's string-typed counters; missing or malformed
// values read as zero.
func parseCount(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
