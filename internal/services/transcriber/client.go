// Package transcriber talks to an OpenAI-compatible speech-to-text endpoint
// and converts a run's extracted audio into SRT subtitles.
package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// Client calls the transcription API.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	http     *http.Client
	logger   *slog.Logger

	maxRetries int
	backoff    time.Duration
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    cfg.Transcription.BaseURL,
		apiKey:     cfg.Transcription.APIKey,
		model:      cfg.Transcription.Model,
		language:   cfg.Transcription.Language,
		http:       &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "transcriber"),
		maxRetries: 3,
		backoff:    2 * time.Second,
	}
}

// Transcribe uploads the audio file and returns the subtitles in SRT form.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", services.WrapError(services.KindExternalTool, "", "read audio file", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			if ra := retryAfterFrom(lastErr); ra > 0 {
				wait = ra
			}
			c.logger.Warn("transcription retry",
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				logging.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		srt, err := c.request(ctx, filepath.Base(audioPath), audio)
		if err == nil {
			return srt, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", services.WrapError(services.KindTransient, "", "transcription retries exhausted", lastErr)
}

// HealthCheck verifies the endpoint is reachable and credentials exist.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return services.NewError(services.KindValidation, "", "transcription api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return services.WrapError(services.KindTransient, "", "transcription endpoint unreachable", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return services.NewError(services.KindTransient, "",
			fmt.Sprintf("transcription endpoint returned %d", resp.StatusCode))
	}
	return nil
}

type httpStatusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("transcription api returned %d: %s", e.status, e.body)
}

func (c *Client) request(ctx context.Context, filename string, audio []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	w.WriteField("model", c.model)
	w.WriteField("response_format", "srt")
	if c.language != "" {
		w.WriteField("language", c.language)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", services.WrapError(services.KindTransient, "", "transcription request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", services.WrapError(services.KindTransient, "", "read transcription response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{
			status:     resp.StatusCode,
			body:       truncate(string(payload), 256),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return string(payload), nil
}

func retryable(err error) bool {
	var se *httpStatusError
	if services.IsKind(err, services.KindTransient) {
		return true
	}
	if ok := asStatusError(err, &se); ok {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return false
}

func retryAfterFrom(err error) time.Duration {
	var se *httpStatusError
	if asStatusError(err, &se) {
		return se.retryAfter
	}
	return 0
}

func asStatusError(err error, target **httpStatusError) bool {
	for err != nil {
		if se, ok := err.(*httpStatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
