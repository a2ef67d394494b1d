// Package stockfootage searches and downloads short stock clips used as
// b-roll overlays.
package stockfootage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// Video is one search result.
type Video struct {
	ID              int64       `json:"id"`
	DurationSeconds int         `json:"duration"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	Files           []VideoFile `json:"video_files"`
}

// VideoFile is one downloadable rendition of a video.
type VideoFile struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Link   string `json:"link"`
}

// Criteria constrain which search results are usable as overlay clips.
type Criteria struct {
	MinDuration time.Duration
	MinHeight   int
}

// Client calls the footage search API.
type Client struct {
	baseURL string
	apiKey  string
	perPage int
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.StockFootage.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		baseURL: cfg.StockFootage.BaseURL,
		apiKey:  cfg.StockFootage.APIKey,
		perPage: cfg.StockFootage.PerPage,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "stockfootage"),
	}
}

// Search returns candidate videos for a keyword.
func (c *Client) Search(ctx context.Context, keyword string) ([]Video, error) {
	endpoint := fmt.Sprintf("%s/videos/search?query=%s&per_page=%d",
		c.baseURL, url.QueryEscape(keyword), c.perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.WrapError(services.KindTransient, "", "footage search failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := services.KindExternalTool
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = services.KindTransient
		}
		return nil, services.NewError(kind, "",
			fmt.Sprintf("footage search for %q returned %d", keyword, resp.StatusCode))
	}

	var payload struct {
		Videos []Video `json:"videos"`
	}
	if err := decodeJSON(resp.Body, &payload); err != nil {
		return nil, services.WrapError(services.KindExternalTool, "", "parse footage search response", err)
	}
	c.logger.Debug("footage search",
		logging.String("keyword", keyword),
		logging.Int("results", len(payload.Videos)))
	return payload.Videos, nil
}

// Download fetches a rendition to dest.
func (c *Client) Download(ctx context.Context, link, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return services.WrapError(services.KindTransient, "", "footage download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.NewError(services.KindTransient, "",
			fmt.Sprintf("footage download returned %d", resp.StatusCode))
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create clip file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dest)
		return services.WrapError(services.KindTransient, "", "write clip file", err)
	}
	return nil
}

// HealthCheck verifies credentials are configured.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return services.NewError(services.KindValidation, "", "stock footage api key not configured")
	}
	return nil
}

// SelectBest picks the most suitable video and rendition from search
// results: long enough, tall enough, then highest resolution. Returns false
// when nothing qualifies.
func SelectBest(videos []Video, criteria Criteria) (Video, VideoFile, bool) {
	var bestVideo Video
	var bestFile VideoFile
	found := false

	minSecs := int(criteria.MinDuration / time.Second)
	for _, v := range videos {
		if v.DurationSeconds < minSecs {
			continue
		}
		for _, f := range v.Files {
			if f.Height < criteria.MinHeight || f.Link == "" {
				continue
			}
			if !found || f.Height > bestFile.Height ||
				(f.Height == bestFile.Height && f.Width > bestFile.Width) {
				bestVideo = v
				bestFile = f
				found = true
			}
		}
	}
	return bestVideo, bestFile, found
}

// ClipFilename names a downloaded clip deterministically per video.
func ClipFilename(v Video) string {
	return "clip-" + strconv.FormatInt(v.ID, 10) + ".mp4"
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, 8<<20)).Decode(v)
}
