// Package imagehost uploads thumbnails to an imgbb-compatible image host
// and returns their public URLs.
package imagehost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// Client calls the image hosting API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.ImageHost.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		baseURL: cfg.ImageHost.BaseURL,
		apiKey:  cfg.ImageHost.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "imagehost"),
	}
}

// Result identifies an uploaded image on the host.
type Result struct {
	ID       string
	Filename string
	URL      string
}

// Upload posts the image and returns the host's identifier and public URL.
func (c *Client) Upload(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.WrapError(services.KindFinalize, "", "read thumbnail", err)
	}

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("image", base64.StdEncoding.EncodeToString(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/upload", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.WrapError(services.KindTransient, "", "thumbnail upload failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.WrapError(services.KindTransient, "", "read image host response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.NewError(services.KindExternalTool, "",
			fmt.Sprintf("image host returned %d", resp.StatusCode))
	}

	var payload struct {
		Data struct {
			ID    string `json:"id"`
			URL   string `json:"url"`
			Image struct {
				Filename string `json:"filename"`
			} `json:"image"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, services.WrapError(services.KindExternalTool, "", "parse image host response", err)
	}
	if !payload.Success || payload.Data.URL == "" {
		return nil, services.NewError(services.KindExternalTool, "", "image host rejected upload")
	}

	c.logger.Info("thumbnail uploaded",
		logging.String("image_id", payload.Data.ID),
		logging.String("url", payload.Data.URL))
	return &Result{
		ID:       payload.Data.ID,
		Filename: payload.Data.Image.Filename,
		URL:      payload.Data.URL,
	}, nil
}

// HealthCheck verifies credentials are configured.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return services.NewError(services.KindValidation, "", "image host api key not configured")
	}
	return nil
}
