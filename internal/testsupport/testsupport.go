// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"videoforge/internal/catalog"
	"videoforge/internal/config"
	"videoforge/internal/queue"
)

// NewConfig returns a config rooted in a per-test temp directory with
// intervals tightened for fast tests.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.LockFile = filepath.Join(dir, "videoforge.lock")
	cfg.Workflow.QueuePollIntervalSeconds = 1
	cfg.Workflow.ErrorRetryIntervalSec = 1

	for _, p := range []string{cfg.Paths.StagingDir, cfg.Paths.LogDir} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("create %s: %v", p, err)
		}
	}
	return &cfg
}

// MustOpenQueue opens the queue store under the config's staging directory
// and closes it when the test finishes.
func MustOpenQueue(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// MustOpenCatalog opens the catalog store under the config's staging
// directory and closes it when the test finishes.
func MustOpenCatalog(t *testing.T, cfg *config.Config) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open catalog store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// WriteFile creates a file with content, making parent directories.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}
