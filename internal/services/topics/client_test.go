package topics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"videoforge/internal/config"
	"videoforge/internal/logging"
)

func TestDecodeExtractionPlainJSON(t *testing.T) {
	ex, err := DecodeExtraction(`{
		"summary": "A rocket launch recap.",
		"topics": [{
			"title": "Launch",
			"start_seconds": 0, "end_seconds": 5,
			"keywords": {"topic": ["rocket launch"], "mood": ["dramatic"]}
		}]
	}`)
	if err != nil {
		t.Fatalf("DecodeExtraction: %v", err)
	}
	if ex.Summary != "A rocket launch recap." {
		t.Fatalf("summary = %q", ex.Summary)
	}
	if len(ex.Topics) != 1 || ex.Topics[0].SearchQuery() != "rocket launch" {
		t.Fatalf("topics = %+v", ex.Topics)
	}
}

func TestDecodeExtractionCodeFence(t *testing.T) {
	content := "Here you go:\n```json\n{\"summary\":\"s\",\"topics\":[{\"title\":\"City\",\"start_seconds\":2,\"end_seconds\":8,\"keywords\":{\"topic\":[\"city skyline\"]}}]}\n```\nLet me know if you need more."
	ex, err := DecodeExtraction(content)
	if err != nil {
		t.Fatalf("DecodeExtraction: %v", err)
	}
	if len(ex.Topics) != 1 || ex.Topics[0].SearchQuery() != "city skyline" {
		t.Fatalf("topics = %+v", ex.Topics)
	}
}

func TestDecodeExtractionDropsInvalidWindows(t *testing.T) {
	ex, err := DecodeExtraction(`{"topics": [
		{"title": "Ocean", "start_seconds": 0, "end_seconds": 4, "keywords": {"topic": ["ocean"]}},
		{"title": "", "start_seconds": 4, "end_seconds": 8},
		{"title": "Desert", "start_seconds": 9, "end_seconds": 9, "keywords": {"topic": ["desert"]}}
	]}`)
	if err != nil {
		t.Fatalf("DecodeExtraction: %v", err)
	}
	if len(ex.Topics) != 1 || ex.Topics[0].Title != "Ocean" {
		t.Fatalf("topics = %+v", ex.Topics)
	}
}

func TestSearchQueryFallsBackToTitle(t *testing.T) {
	topic := Topic{Title: "Mountain Biking", StartSeconds: 0, EndSeconds: 3}
	if got := topic.SearchQuery(); got != "Mountain Biking" {
		t.Fatalf("SearchQuery = %q", got)
	}
	topic.Keywords.Topic = []string{"mountain", "bike trail"}
	if got := topic.SearchQuery(); got != "mountain bike trail" {
		t.Fatalf("SearchQuery = %q", got)
	}
}

func TestDecodeExtractionRejectsProse(t *testing.T) {
	if _, err := DecodeExtraction("I could not find any topics."); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExtractCapsTopicCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		reply := `{"summary": "s", "topics": [
			{"title": "a", "start_seconds": 0, "end_seconds": 1, "keywords": {"topic": ["a"]}},
			{"title": "b", "start_seconds": 1, "end_seconds": 2, "keywords": {"topic": ["b"]}},
			{"title": "c", "start_seconds": 2, "end_seconds": 3, "keywords": {"topic": ["c"]}}
		]}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Topics.BaseURL = server.URL
	cfg.Topics.APIKey = "k"
	cfg.Topics.MaxTopics = 2

	client := NewClient(&cfg, logging.NewNop())
	ex, err := client.Extract(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ex.Topics) != 2 {
		t.Fatalf("got %d topics, want capped at 2", len(ex.Topics))
	}
}

func TestExtractSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Topics.BaseURL = server.URL
	cfg.Topics.APIKey = "k"

	client := NewClient(&cfg, logging.NewNop())
	if _, err := client.Extract(context.Background(), "transcript"); err == nil {
		t.Fatal("expected error")
	}
}
