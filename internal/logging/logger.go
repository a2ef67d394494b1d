package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "console". Defaults to console when stderr is a
	// terminal, json otherwise.
	Format string
	// OutputPaths are additional files that receive every log line. Parent
	// directories must already exist.
	OutputPaths []string
}

// New constructs a slog logger per the provided options. The returned cleanup
// function closes any opened log files.
func New(opts Options) (*slog.Logger, func(), error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	writers := []io.Writer{os.Stderr}
	closers := make([]io.Closer, 0, len(opts.OutputPaths))
	for _, path := range opts.OutputPaths {
		f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, fmt.Errorf("open log output %s: %w", path, err)
		}
		writers = append(writers, f)
		closers = append(closers, f)
	}

	out := io.MultiWriter(writers...)
	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "console"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "console", "text":
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return slog.New(handler), cleanup, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
