package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/logging"
	"videoforge/internal/queue"
	"videoforge/internal/services"
)

// Producer turns a submission into a queued processing run.
type Producer struct {
	catalog    *catalog.Store
	queue      *queue.Store
	registry   *assets.Registry
	stagingDir string
	graph      *Graph
	logger     *slog.Logger

	// startMu serializes the duplicate check against the enqueue so
	// concurrent starts for one submission yield exactly one run.
	startMu sync.Mutex
}

func NewProducer(catalogStore *catalog.Store, queueStore *queue.Store, registry *assets.Registry, stagingDir string, logger *slog.Logger) *Producer {
	return &Producer{
		catalog:    catalogStore,
		queue:      queueStore,
		registry:   registry,
		stagingDir: stagingDir,
		graph:      DefaultGraph(),
		logger:     logging.NewComponentLogger(logger, "flow"),
	}
}

// StartProcessing validates the submission, initializes its staging
// repository and enqueues the stage graph. Returns the root job ID that
// clients use to follow progress.
func (p *Producer) StartProcessing(ctx context.Context, submissionID int64) (string, error) {
	sub, err := p.catalog.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}

	p.startMu.Lock()
	defer p.startMu.Unlock()

	if active, err := p.queue.ActiveRootForSubmission(ctx, submissionID); err != nil {
		return "", err
	} else if active != "" {
		return "", services.NewError(services.KindDuplicateJob, "",
			fmt.Sprintf("submission %d already has active run %s", submissionID, active))
	}

	jobs, rootID := p.graph.Jobs(submissionID)

	repo, err := assets.Init(p.stagingDir, rootID)
	if err != nil {
		return "", err
	}

	if err := p.queue.EnqueueGraph(ctx, jobs); err != nil {
		if derr := repo.Destroy(); derr != nil {
			p.logger.Warn("staging cleanup after enqueue failure failed",
				logging.String(logging.FieldRootJobID, rootID),
				logging.Error(derr))
		}
		return "", fmt.Errorf("enqueue run for submission %d: %w", submissionID, err)
	}
	p.registry.Register(repo)

	p.logger.Info("processing run enqueued",
		logging.Int64(logging.FieldSubmissionID, sub.ID),
		logging.String(logging.FieldRootJobID, rootID),
		logging.Int("stage_count", len(jobs)-1))
	return rootID, nil
}
