// Package staging removes abandoned staging directories left behind by
// crashed or interrupted runs.
package staging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoforge/internal/logging"
)

// CleanStale removes submission staging directories older than maxAge,
// skipping any whose root job is still registered as active. Returns the
// number of directories removed.
func CleanStale(stagingDir string, maxAge time.Duration, active func(rootID string) bool, logger *slog.Logger) (int, error) {
	logger = logging.NewComponentLogger(logger, "staging")

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return 0, err
	}

	const prefix = "submission-assets-"
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		rootID := strings.TrimPrefix(entry.Name(), prefix)
		if active != nil && active(rootID) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(stagingDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("stale staging removal failed",
				logging.String("path", path),
				logging.Error(err))
			continue
		}
		logger.Info("stale staging directory removed",
			logging.String(logging.FieldRootJobID, rootID),
			logging.Duration("age", time.Since(info.ModTime()).Round(time.Minute)))
		removed++
	}
	return removed, nil
}
