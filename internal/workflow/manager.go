// Package workflow drives the job queue: claiming runnable jobs, executing
// stage handlers with heartbeats, and publishing progress to subscribers.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/config"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/progress"
	"videoforge/internal/queue"
	"videoforge/internal/services"
	"videoforge/internal/stage"
)

// Manager owns the worker pool that drains the queue.
type Manager struct {
	cfg      *config.Config
	queue    *queue.Store
	catalog  *catalog.Store
	registry *assets.Registry
	hub      *progress.Hub
	handlers map[string]stage.Handler
	terminal string
	limiter  *rateLimiter
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(
	cfg *config.Config,
	queueStore *queue.Store,
	catalogStore *catalog.Store,
	registry *assets.Registry,
	hub *progress.Hub,
	handlers []stage.Handler,
	logger *slog.Logger,
) *Manager {
	byStage := make(map[string]stage.Handler, len(handlers))
	for _, h := range handlers {
		byStage[h.Stage()] = h
	}
	return &Manager{
		cfg:      cfg,
		queue:    queueStore,
		catalog:  catalogStore,
		registry: registry,
		hub:      hub,
		handlers: byStage,
		terminal: flow.DefaultGraph().TerminalStage(),
		limiter: newRateLimiter(cfg.Workflow.RateLimitMax,
			time.Duration(cfg.Workflow.RateLimitWindowSec)*time.Second),
		logger: logging.NewComponentLogger(logger, "workflow"),
	}
}

// Start launches the worker and monitor goroutines. Stop waits for them.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for i := 0; i < m.cfg.Workflow.MaxConcurrent; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.workerLoop(ctx)
		}()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reclaimLoop(ctx)
	}()

	m.logger.Info("workflow started",
		logging.Int("workers", m.cfg.Workflow.MaxConcurrent))
}

// Stop cancels all loops and waits for in-flight jobs to settle.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

// HealthCheck runs every registered handler's health check.
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(m.handlers))
	for name, h := range m.handlers {
		results[name] = h.HealthCheck(ctx)
	}
	return results
}

func (m *Manager) workerLoop(ctx context.Context) {
	poll := time.Duration(m.cfg.Workflow.QueuePollIntervalSeconds) * time.Second
	retry := time.Duration(m.cfg.Workflow.ErrorRetryIntervalSec) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if !m.limiter.canStart() {
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}

		job, err := m.queue.NextRunnable(ctx)
		switch {
		case errors.Is(err, queue.ErrNoJob):
			if !sleepCtx(ctx, poll) {
				return
			}
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("queue poll failed", logging.Error(err))
			if !sleepCtx(ctx, retry) {
				return
			}
		default:
			m.limiter.recordStart()
			m.executeJob(ctx, job)
		}
	}
}

func (m *Manager) reclaimLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.Workflow.HeartbeatIntervalSec) * time.Second
	timeout := time.Duration(m.cfg.Workflow.HeartbeatTimeoutSec) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := m.queue.ReclaimStale(ctx, timeout)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("stale reclaim failed", logging.Error(err))
				}
				continue
			}
			for _, job := range stale {
				m.logger.Warn("job reclaimed after lost heartbeat",
					logging.String(logging.FieldJobID, job.ID),
					logging.String(logging.FieldStage, job.Stage))
			}
		}
	}
}

func (m *Manager) executeJob(ctx context.Context, job *queue.Job) {
	ctx = services.WithSubmissionID(ctx, job.SubmissionID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStage(ctx, job.Stage)
	logger := logging.WithContext(ctx, m.logger)

	handler, ok := m.handlers[job.Stage]
	if !ok {
		m.failJob(ctx, job, services.NewError(services.KindValidation, job.Stage,
			"no handler registered for stage"))
		return
	}

	req, err := m.buildRequest(ctx, job)
	if err != nil {
		m.failJob(ctx, job, err)
		return
	}

	m.hub.Publish(progress.Event{
		Name: progress.EventActive, JobID: job.ID, RootID: job.RootID, Stage: job.Stage,
	})
	logger.Info("stage started")

	err = m.runWithHeartbeat(ctx, job, func(hctx context.Context) error {
		return handler.Execute(hctx, req)
	})
	if err != nil {
		m.failJob(ctx, job, err)
		return
	}

	if err := m.queue.SetStatus(ctx, job.ID, queue.StatusCompleted); err != nil {
		logger.Error("mark completed failed", logging.Error(err))
		return
	}
	m.hub.Publish(progress.Event{
		Name: progress.EventCompleted, JobID: job.ID, RootID: job.RootID, Stage: job.Stage,
	})
	logger.Info("stage completed")

	if job.Stage == m.terminal {
		m.completeRoot(ctx, job)
	}
}

// runWithHeartbeat executes fn while refreshing the job's heartbeat so the
// reclaim loop can tell a slow stage from a dead worker.
func (m *Manager) runWithHeartbeat(ctx context.Context, job *queue.Job, fn func(context.Context) error) error {
	interval := time.Duration(m.cfg.Workflow.HeartbeatIntervalSec) * time.Second
	done := make(chan struct{})
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.queue.UpdateHeartbeat(ctx, job.ID); err != nil && ctx.Err() == nil {
					m.logger.Warn("heartbeat update failed",
						logging.String(logging.FieldJobID, job.ID),
						logging.Error(err))
				}
			}
		}
	}()

	err := fn(ctx)
	close(done)
	hbWG.Wait()
	return err
}

func (m *Manager) buildRequest(ctx context.Context, job *queue.Job) (*stage.Request, error) {
	sub, err := m.catalog.GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		return nil, err
	}

	repo, ok := m.registry.Lookup(job.RootID)
	if !ok {
		// Daemon restarted mid-run; rebuild from whatever survived on disk.
		repo, err = assets.Open(m.cfg.Paths.StagingDir, job.RootID)
		if err != nil {
			return nil, err
		}
		m.registry.Register(repo)
	}

	reporter := stage.ReporterFunc(func(percent float64, message string) {
		if err := m.queue.SetProgress(ctx, job.ID, percent, message); err != nil && ctx.Err() == nil {
			m.logger.Warn("progress update failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
		m.hub.Publish(progress.Event{
			Name: progress.EventProgress, JobID: job.ID, RootID: job.RootID,
			Stage: job.Stage, Percent: percent, Message: message,
		})
	})

	return &stage.Request{Job: job, Submission: sub, Repo: repo, Progress: reporter}, nil
}

// failJob marks the stage and its root failed and notifies subscribers. A
// failed stage ends the whole run; dependents can never become runnable.
func (m *Manager) failJob(ctx context.Context, job *queue.Job, cause error) {
	logger := logging.WithContext(ctx, m.logger)
	reason := services.Details(cause)

	logger.Error("stage failed",
		logging.String("error_kind", string(services.KindOf(cause))),
		logging.Error(cause))

	if err := m.queue.SetFailed(ctx, job.ID, reason); err != nil && ctx.Err() == nil {
		logger.Error("mark failed failed", logging.Error(err))
	}
	if err := m.queue.SetFailed(ctx, job.RootID, reason); err != nil && ctx.Err() == nil {
		logger.Error("mark root failed failed", logging.Error(err))
	}
	m.hub.Publish(progress.Event{
		Name: progress.EventFailed, JobID: job.ID, RootID: job.RootID,
		Stage: job.Stage, Reason: reason,
	})

	// The run is over; the staging repository must not outlive it, or the
	// stale-cleanup cron will treat it as active forever.
	if repo, ok := m.registry.Lookup(job.RootID); ok {
		if err := repo.Destroy(); err != nil {
			logger.Error("staging cleanup after failure failed", logging.Error(err))
		}
		m.registry.Release(job.RootID)
	}
}

func (m *Manager) completeRoot(ctx context.Context, job *queue.Job) {
	if err := m.queue.SetStatus(ctx, job.RootID, queue.StatusCompleted); err != nil && ctx.Err() == nil {
		m.logger.Error("complete root failed",
			logging.String(logging.FieldRootJobID, job.RootID),
			logging.Error(err))
		return
	}
	m.registry.Release(job.RootID)
	m.logger.Info("run completed",
		logging.String(logging.FieldRootJobID, job.RootID),
		logging.Int64(logging.FieldSubmissionID, job.SubmissionID))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// rateLimiter is a sliding-window limiter on job starts.
type rateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	starts []time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{max: max, window: window}
}

// canStart reports whether a new job may start inside the current window.
// It does not consume a slot; recordStart does, once a job is claimed.
func (r *rateLimiter) canStart() bool {
	if r.max <= 0 || r.window <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return len(r.starts) < r.max
}

func (r *rateLimiter) recordStart() {
	if r.max <= 0 || r.window <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, time.Now())
}

func (r *rateLimiter) prune() {
	cutoff := time.Now().Add(-r.window)
	kept := r.starts[:0]
	for _, t := range r.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.starts = kept
}
