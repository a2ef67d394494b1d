// Package finalize implements the last pipeline stage: persist every staged
// asset durably, record it in the catalog and tear down the staging area.
package finalize

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/services"
	"videoforge/internal/services/imagehost"
	"videoforge/internal/services/objectstore"
	"videoforge/internal/stage"
)

type objectUploader interface {
	Upload(ctx context.Context, assetKind, path string) (*objectstore.Result, error)
	HealthCheck(ctx context.Context) error
}

type imageUploader interface {
	Upload(ctx context.Context, path string) (*imagehost.Result, error)
	HealthCheck(ctx context.Context) error
}

type recordInserter interface {
	InsertAssetRecord(ctx context.Context, rec catalog.AssetRecord) error
}

// uploadConcurrency bounds parallel uploads per run.
const uploadConcurrency = 4

// Handler runs the finalize stage.
type Handler struct {
	objects  objectUploader
	images   imageUploader
	catalog  recordInserter
	registry *assets.Registry
	logger   *slog.Logger
}

func NewHandler(objects *objectstore.Client, images imageUploader, catalogStore *catalog.Store, registry *assets.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		objects:  objects,
		images:   images,
		catalog:  catalogStore,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "stage.finalize"),
	}
}

func (h *Handler) Stage() string { return flow.StageFinalize }

// Execute uploads every persistable asset, recording failures per kind
// rather than aborting on the first. The staging repository is destroyed
// whether or not uploads succeeded; staged files are unrecoverable after a
// failed finalize, which is exactly why failures are reported per kind.
func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)

	records := req.Repo.Records()
	var (
		mu     sync.Mutex
		failed []string
		saved  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, rec := range records {
		if !persistable(rec.Kind) {
			continue
		}
		rec := rec
		g.Go(func() error {
			if err := h.saveAsset(gctx, req, rec); err != nil {
				logger.Error("asset persistence failed",
					logging.String("asset_kind", string(rec.Kind)),
					logging.Error(err))
				mu.Lock()
				failed = append(failed, string(rec.Kind))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			saved++
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	if err := g.Wait(); err != nil {
		return err
	}

	req.Progress.Report(95, "assets persisted")

	cleanupErr := req.Repo.Destroy()
	h.registry.Release(req.Repo.RootID())

	if len(failed) > 0 {
		sort.Strings(failed)
		e := services.NewError(services.KindFinalize, flow.StageFinalize,
			"asset persistence failed")
		e.FailedKinds = failed
		return e
	}
	if cleanupErr != nil {
		return services.WrapError(services.KindFinalizeCleanup, flow.StageFinalize,
			"assets persisted but staging cleanup failed", cleanupErr)
	}

	req.Progress.Report(100, "run complete")
	logger.Info("finalize complete", logging.Int("assets_saved", saved))
	return nil
}

func (h *Handler) saveAsset(ctx context.Context, req *stage.Request, rec assets.Record) error {
	record := catalog.AssetRecord{
		ID:           uuid.NewString(),
		SubmissionID: req.Submission.ID,
		Kind:         string(rec.Kind),
	}

	if rec.Kind == assets.KindThumbnail {
		result, err := h.images.Upload(ctx, rec.Path)
		if err != nil {
			return err
		}
		record.PublicURL = result.URL
		record.StorageKey = result.ID
	} else {
		result, err := h.objects.Upload(ctx, string(rec.Kind), rec.Path)
		if err != nil {
			return err
		}
		record.StorageKey = result.StorageKey
		record.IntegrityTag = result.IntegrityTag
	}

	return h.catalog.InsertAssetRecord(ctx, record)
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	if err := h.objects.HealthCheck(ctx); err != nil {
		return err
	}
	return h.images.HealthCheck(ctx)
}

// persistable reports whether an asset kind outlives the run. Raw b-roll
// clips are intermediate products; everything else is archived.
func persistable(kind assets.Kind) bool {
	return kind != assets.KindBroll
}

// FailureSummary formats a finalize error's failed kinds for job records.
func FailureSummary(err error) string {
	var tagged *services.Error
	if services.IsKind(err, services.KindFinalize) {
		if ok := asServiceError(err, &tagged); ok && len(tagged.FailedKinds) > 0 {
			return "failed to persist: " + strings.Join(tagged.FailedKinds, ", ")
		}
	}
	return services.Details(err)
}

func asServiceError(err error, target **services.Error) bool {
	for err != nil {
		if se, ok := err.(*services.Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
