package stockfootage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
)

func TestSelectBestPrefersHighestResolution(t *testing.T) {
	videos := []Video{
		{ID: 1, DurationSeconds: 10, Files: []VideoFile{
			{Width: 1280, Height: 720, Link: "a-720"},
			{Width: 1920, Height: 1080, Link: "a-1080"},
		}},
		{ID: 2, DurationSeconds: 12, Files: []VideoFile{
			{Width: 854, Height: 480, Link: "b-480"},
		}},
	}

	video, file, ok := SelectBest(videos, Criteria{MinDuration: 5 * time.Second, MinHeight: 720})
	if !ok {
		t.Fatal("expected a selection")
	}
	if video.ID != 1 || file.Link != "a-1080" {
		t.Fatalf("selected %d/%s", video.ID, file.Link)
	}
}

func TestSelectBestFiltersShortClips(t *testing.T) {
	videos := []Video{
		{ID: 1, DurationSeconds: 2, Files: []VideoFile{{Width: 1920, Height: 1080, Link: "x"}}},
	}
	if _, _, ok := SelectBest(videos, Criteria{MinDuration: 5 * time.Second, MinHeight: 720}); ok {
		t.Fatal("short clip must not be selected")
	}
}

func TestSelectBestEmptyInput(t *testing.T) {
	if _, _, ok := SelectBest(nil, Criteria{}); ok {
		t.Fatal("no selection expected from empty results")
	}
}

func TestSearchSendsAuthAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "px-key" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "city skyline" {
			t.Errorf("query = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"videos": []Video{{ID: 9, DurationSeconds: 8}},
		})
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.StockFootage.BaseURL = server.URL
	cfg.StockFootage.APIKey = "px-key"

	client := NewClient(&cfg, logging.NewNop())
	videos, err := client.Search(context.Background(), "city skyline")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != 9 {
		t.Fatalf("videos = %+v", videos)
	}
}

func TestDownloadWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clip-bytes"))
	}))
	defer server.Close()

	cfg := config.Default()
	client := NewClient(&cfg, logging.NewNop())

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	if err := client.Download(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "clip-bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestDownloadCleansUpOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := config.Default()
	client := NewClient(&cfg, logging.NewNop())

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	if err := client.Download(context.Background(), server.URL, dest); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("no file should remain after failed download")
	}
}
