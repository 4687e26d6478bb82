// Package openai implements llm.Client against an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/llm"
)

var _ llm.Client = (*Client)(nil)

const (
	endpointChatCompletions = "v1/chat/completions"

	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400

	systemPrompt = "You are a marketing-relevance analyst. Given a brand's product description and target " +
		"audience plus a piece of discovered content, rate how relevant the content is for brand engagement " +
		"on a 1-10 scale. Respond with JSON only: {\"relevance_score\": <1-10>, \"reasoning\": \"<one short paragraph>\"}."
)

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func New(cfg config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:     cfg.LLMAPIKey,
		model:      cfg.LLMModel,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type relevancePayload struct {
	RelevanceScore int    `json:"relevance_score"`
	Reasoning      string `json:"reasoning"`
}

// AnalyzeRelevance sends one scoring request and parses the structured reply.
func (c *Client) AnalyzeRelevance(ctx context.Context, req llm.RelevanceRequest) (llm.RelevanceResult, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return llm.RelevanceResult{}, fmt.Errorf("join url: %w", err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return llm.RelevanceResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return llm.RelevanceResult{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return llm.RelevanceResult{}, ctx.Err()
		}
		return llm.RelevanceResult{}, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := respBytes
		if len(snippet) > errorSnippetLimit {
			snippet = snippet[:errorSnippetLimit]
		}
		return llm.RelevanceResult{}, fmt.Errorf("llm status %d: %s", resp.StatusCode, snippet)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBytes, &chat); err != nil {
		return llm.RelevanceResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return llm.RelevanceResult{}, fmt.Errorf("llm returned no choices")
	}

	var payload relevancePayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return llm.RelevanceResult{}, fmt.Errorf("parse relevance payload: %w", err)
	}
	return llm.RelevanceResult{
		Score:     clampScore(payload.RelevanceScore),
		Reasoning: payload.Reasoning,
	}, nil
}

func buildUserPrompt(req llm.RelevanceRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", req.ProductDescription)
	fmt.Fprintf(&b, "Target audience: %s\n", req.TargetAudience)
	fmt.Fprintf(&b, "Source: %s\n", req.Source)
	if req.Keyword != "" {
		fmt.Fprintf(&b, "Matched keyword: %s\n", req.Keyword)
	}
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	if req.Body != "" {
		fmt.Fprintf(&b, "Content:\n%s\n", req.Body)
	}
	return b.String()
}

func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
