// Package stage defines the contract between the workflow manager and the
// pipeline stage implementations.
package stage

import (
	"context"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/queue"
)

// Request is everything a stage needs to execute one job.
type Request struct {
	Job        *queue.Job
	Submission *catalog.Submission
	Repo       *assets.Repository
	Progress   Reporter
}

// Reporter receives stage progress. Implementations must be safe to call
// from the stage goroutine; delivery to subscribers is best-effort.
type Reporter interface {
	Report(percent float64, message string)
}

// Handler executes one pipeline stage.
type Handler interface {
	// Stage returns the graph node name this handler serves.
	Stage() string
	// Execute runs the stage to completion or error. A nil error means the
	// job may transition to completed.
	Execute(ctx context.Context, req *Request) error
	// HealthCheck verifies the stage's external dependencies are reachable.
	HealthCheck(ctx context.Context) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(percent float64, message string)

func (f ReporterFunc) Report(percent float64, message string) { f(percent, message) }

// NopReporter discards progress.
var NopReporter Reporter = ReporterFunc(func(float64, string) {})
