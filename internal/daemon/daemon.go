// Package daemon wires the full service together: single-instance lock,
// stores, stage handlers, workflow manager, scheduled staging cleanup and
// the HTTP API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/config"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/media"
	"videoforge/internal/progress"
	"videoforge/internal/queue"
	"videoforge/internal/services/imagehost"
	"videoforge/internal/services/objectstore"
	"videoforge/internal/services/stockfootage"
	"videoforge/internal/services/topics"
	"videoforge/internal/services/transcriber"
	"videoforge/internal/stage"
	"videoforge/internal/stages/broll"
	"videoforge/internal/stages/captions"
	"videoforge/internal/stages/finalize"
	"videoforge/internal/stages/setup"
	"videoforge/internal/staging"
	"videoforge/internal/workflow"
)

// Daemon is the assembled service.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	lock    *flock.Flock
	queue   *queue.Store
	catalog *catalog.Store
	manager *workflow.Manager
	api     *APIServer
	cron    *cron.Cron
}

// New builds a daemon from configuration. It acquires the single-instance
// lock immediately; a second daemon on the same staging area would corrupt
// runs.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock := flock.New(cfg.Paths.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another daemon already holds %s", cfg.Paths.LockFile)
	}

	queueStore, err := queue.Open(ctx, cfg)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	catalogStore, err := catalog.Open(ctx, cfg)
	if err != nil {
		queueStore.Close()
		lock.Unlock()
		return nil, err
	}

	registry := assets.NewRegistry()
	hub := progress.NewHub()
	runner := media.NewRunner(cfg, logger)

	transcriberClient := transcriber.NewClient(cfg, logger)
	topicsClient := topics.NewClient(cfg, logger)
	footageClient := stockfootage.NewClient(cfg, logger)
	imageClient := imagehost.NewClient(cfg, logger)
	objectClient, err := objectstore.New(ctx, cfg, logger)
	if err != nil {
		catalogStore.Close()
		queueStore.Close()
		lock.Unlock()
		return nil, err
	}

	handlers := []stage.Handler{
		setup.NewHandler(runner, catalogStore, objectClient, logger),
		broll.NewHandler(cfg, transcriberClient, topicsClient, footageClient, runner, logger),
		captions.NewHandler(cfg, transcriberClient, runner, logger),
		finalize.NewHandler(objectClient, imageClient, catalogStore, registry, logger),
	}

	manager := workflow.NewManager(cfg, queueStore, catalogStore, registry, hub, handlers, logger)
	producer := flow.NewProducer(catalogStore, queueStore, registry, cfg.Paths.StagingDir, logger)
	api := NewAPIServer(cfg.Paths.APIBind, catalogStore, queueStore, producer, hub, manager.HealthCheck, logger)

	c := cron.New()
	maxAge := time.Duration(cfg.Workflow.StagingMaxAgeHours) * time.Hour
	_, err = c.AddFunc(cfg.Workflow.CleanupSchedule, func() {
		removed, err := staging.CleanStale(cfg.Paths.StagingDir, maxAge, func(rootID string) bool {
			_, active := registry.Lookup(rootID)
			return active
		}, logger)
		if err != nil {
			logger.Error("staging cleanup failed", logging.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("staging cleanup", logging.Int("removed", removed))
		}
	})
	if err != nil {
		catalogStore.Close()
		queueStore.Close()
		lock.Unlock()
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Workflow.CleanupSchedule, err)
	}

	return &Daemon{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		lock:    lock,
		queue:   queueStore,
		catalog: catalogStore,
		manager: manager,
		api:     api,
		cron:    c,
	}, nil
}

// Run starts all components and blocks until ctx is cancelled, then shuts
// down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	d.manager.Start(ctx)
	d.cron.Start()
	d.api.Start()
	d.logger.Info("daemon running", logging.String("bind", d.cfg.Paths.APIBind))

	<-ctx.Done()
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.api.Stop(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}
	<-d.cron.Stop().Done()
	d.manager.Stop()

	d.catalog.Close()
	d.queue.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
	return nil
}
