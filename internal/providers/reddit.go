package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"engagement-pipeline/internal/config"
)

// RedditPost is one search result from the Reddit search endpoint.
type RedditPost struct {
	ExternalID string
	Subreddit  string
	Title      string
	Body       string
	URL        string
	Author     string
	Score      int
	CreatedAt  time.Time
}

// RedditClient queries Reddit's public search JSON endpoint.
type RedditClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func NewRedditClient(cfg config.Config) *RedditClient {
	return &RedditClient{
		httpClient: newHTTPClient(),
		baseURL:    cfg.RedditBaseURL,
		userAgent:  cfg.RedditUserAgent,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Name       string  `json:"name"`
				ID         string  `json:"id"`
				Subreddit  string  `json:"subreddit"`
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				Permalink  string  `json:"permalink"`
				Author     string  `json:"author"`
				Score      int     `json:"score"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Search runs a keyword search restricted to one subreddit, newest first.
func (c *RedditClient) Search(ctx context.Context, subreddit, query string, limit int) ([]RedditPost, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("restrict_sr", "1")
	q.Set("sort", "new")
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/r/%s/search.json?%s", c.baseURL, url.PathEscape(subreddit), q.Encode())

	var listing redditListing
	if err := getJSON(ctx, c.httpClient, endpoint, c.userAgent, &listing); err != nil {
		return nil, fmt.Errorf("reddit search r/%s %q: %w", subreddit, query, err)
	}

	posts := make([]RedditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		externalID := d.Name
		if externalID == "" {
			externalID = d.ID
		}
		if externalID == "" {
			continue
		}
		posts = append(posts, RedditPost{
			ExternalID: externalID,
			Subreddit:  d.Subreddit,
			Title:      d.Title,
			Body:       d.Selftext,
			URL:        c.baseURL + d.Permalink,
			Author:     d.Author,
			Score:      d.Score,
			CreatedAt:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
	}
	return posts, nil
}
