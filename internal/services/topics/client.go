// Package topics extracts b-roll search topics from a transcript using an
// OpenAI-compatible chat completion endpoint.
package topics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// Keywords splits a topic's search terms by intent: Topic terms name the
// visual subject, Mood terms describe its tone.
type Keywords struct {
	Mood  []string `json:"mood"`
	Topic []string `json:"topic"`
}

// Topic is one extracted subject with the transcript window it covers.
// Footage found for the topic is overlaid during this window.
type Topic struct {
	Title        string   `json:"title"`
	StartSeconds float64  `json:"start_seconds"`
	EndSeconds   float64  `json:"end_seconds"`
	Keywords     Keywords `json:"keywords"`
}

// SearchQuery returns the stock-footage query for the topic: its subject
// keywords joined, or the title when the model supplied none.
func (t Topic) SearchQuery() string {
	if len(t.Keywords.Topic) > 0 {
		return strings.Join(t.Keywords.Topic, " ")
	}
	return t.Title
}

// Extraction is the full model output for one transcript.
type Extraction struct {
	Summary string  `json:"summary"`
	Topics  []Topic `json:"topics"`
}

const systemPrompt = `You analyze video transcripts with per-line timestamps and extract visual topics suitable for stock footage searches. Respond with a JSON object with "summary" (one sentence describing the video) and "topics", an array of objects each with "title" (a short name for the topic), "start_seconds" and "end_seconds" (the transcript window the topic covers), and "keywords" with two string arrays: "topic" (1-3 word concrete visual subjects) and "mood" (tone words). Prefer concrete nouns over abstract concepts. Do not include commentary.`

// Client calls the chat completion API.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTopics int
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.Topics.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:   cfg.Topics.BaseURL,
		apiKey:    cfg.Topics.APIKey,
		model:     cfg.Topics.Model,
		maxTopics: cfg.Topics.MaxTopics,
		http:      &http.Client{Timeout: timeout},
		logger:    logging.NewComponentLogger(logger, "topics"),
	}
}

// Extract asks the model for topics covering the timestamped transcript.
func (c *Client) Extract(ctx context.Context, timestampedTranscript string) (*Extraction, error) {
	userPrompt := fmt.Sprintf("Extract at most %d topics from this transcript:\n\n%s",
		c.maxTopics, timestampedTranscript)

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0.2,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.WrapError(services.KindTransient, "", "topic extraction request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, services.WrapError(services.KindTransient, "", "read topic response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := services.KindExternalTool
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = services.KindTransient
		}
		return nil, services.NewError(kind, "",
			fmt.Sprintf("topic extraction returned %d: %s", resp.StatusCode, truncate(string(raw), 256)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, services.WrapError(services.KindExternalTool, "", "parse completion envelope", err)
	}
	if len(completion.Choices) == 0 {
		return nil, services.NewError(services.KindExternalTool, "", "completion returned no choices")
	}

	extraction, err := DecodeExtraction(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if c.maxTopics > 0 && len(extraction.Topics) > c.maxTopics {
		extraction.Topics = extraction.Topics[:c.maxTopics]
	}
	c.logger.Debug("topics extracted", logging.Int("count", len(extraction.Topics)))
	return extraction, nil
}

// HealthCheck verifies credentials are configured.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return services.NewError(services.KindValidation, "", "topics api key not configured")
	}
	return nil
}

// DecodeExtraction parses the model's reply, tolerating markdown code fences
// and prose around the JSON object. Models wrap JSON in fences often enough
// that strict parsing would be the unreliable path.
func DecodeExtraction(content string) (*Extraction, error) {
	cleaned := strings.TrimSpace(content)
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var extraction Extraction
	if err := json.Unmarshal([]byte(cleaned), &extraction); err != nil {
		return nil, services.WrapError(services.KindExternalTool, "",
			fmt.Sprintf("model reply is not a topic extraction: %s", truncate(content, 256)), err)
	}

	valid := extraction.Topics[:0]
	for _, t := range extraction.Topics {
		t.Title = strings.TrimSpace(t.Title)
		if t.SearchQuery() == "" || t.EndSeconds <= t.StartSeconds {
			continue
		}
		valid = append(valid, t)
	}
	extraction.Topics = valid
	return &extraction, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
