package llm

import (
	"context"
)

// RelevanceRequest describes a piece of discovered content to score against a
// brand's positioning.
type RelevanceRequest struct {
	Source             string // subreddit name or "youtube"
	Title              string
	Body               string
	Keyword            string
	ProductDescription string
	TargetAudience     string
}

// RelevanceResult is the structured outcome of one scoring call.
type RelevanceResult struct {
	Score     int    // 1-10 topical-fit estimate
	Reasoning string
}

// Client defines the capability to score content relevance. The call is
// opaque, possibly slow, possibly failing; callers own the error boundary.
type Client interface {
	AnalyzeRelevance(ctx context.Context, req RelevanceRequest) (RelevanceResult, error)
}
