package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"engagement-pipeline/internal/config"
	"engagement-pipeline/internal/llm"
)

func TestAnalyzeRelevanceParsesPayload(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant",
			"content": "{\"relevance_score\": 8, \"reasoning\": \"strong audience overlap\"}"}}]}`))
	}))
	defer srv.Close()

	client := New(config.Config{LLMBaseURL: srv.URL, LLMAPIKey: "sk-test", LLMModel: "test-model"})
	res, err := client.AnalyzeRelevance(context.Background(), llm.RelevanceRequest{
		Source:             "golang",
		Title:              "Looking for a CI tool",
		ProductDescription: "CI/CD platform",
		TargetAudience:     "platform engineers",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 8 {
		t.Fatalf("expected score 8, got %d", res.Score)
	}
	if res.Reasoning != "strong audience overlap" {
		t.Fatalf("unexpected reasoning %q", res.Reasoning)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestAnalyzeRelevanceClampsScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant",
			"content": "{\"relevance_score\": 14, \"reasoning\": \"overshoot\"}"}}]}`))
	}))
	defer srv.Close()

	client := New(config.Config{LLMBaseURL: srv.URL, LLMModel: "test-model"})
	res, err := client.AnalyzeRelevance(context.Background(), llm.RelevanceRequest{Title: "x"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 10 {
		t.Fatalf("expected clamped score 10, got %d", res.Score)
	}
}

func TestAnalyzeRelevanceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(config.Config{LLMBaseURL: srv.URL, LLMModel: "test-model"})
	if _, err := client.AnalyzeRelevance(context.Background(), llm.RelevanceRequest{Title: "x"}); err == nil {
		t.Fatal("expected error on 429")
	}
}
