// Package setup implements the first pipeline stage: staging the uploaded
// video and deriving the base assets every later stage consumes.
package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/fileutil"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/media"
	"videoforge/internal/services"
	"videoforge/internal/services/objectstore"
	"videoforge/internal/stage"
)

// mediaRunner is the slice of the media runner this stage needs.
type mediaRunner interface {
	Probe(ctx context.Context, input string) (*media.Metadata, error)
	Optimize(ctx context.Context, input, output string) error
	ExtractAudio(ctx context.Context, input, output string) error
	Thumbnail(ctx context.Context, input, output string) error
}

type assetFinder interface {
	LatestAssetByKind(ctx context.Context, submissionID int64, kind string) (*catalog.AssetRecord, error)
}

type objectFetcher interface {
	Download(ctx context.Context, assetKind, storageKey, dest string) error
}

// Handler stages the original upload, probes it, produces the optimized
// rendition, the speech audio track and the thumbnail.
type Handler struct {
	media   mediaRunner
	catalog assetFinder
	objects objectFetcher
	logger  *slog.Logger
}

func NewHandler(runner *media.Runner, catalogStore *catalog.Store, objects *objectstore.Client, logger *slog.Logger) *Handler {
	return &Handler{
		media:   runner,
		catalog: catalogStore,
		objects: objects,
		logger:  logging.NewComponentLogger(logger, "stage.setup"),
	}
}

func (h *Handler) Stage() string { return flow.StageSetup }

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)
	repo := req.Repo

	// Stage the original into the repository, preferring the durable copy
	// over the local upload so re-processing works after the source file is
	// gone.
	original, err := repo.Create(assets.KindOriginalVideo, originalName(req.Submission.SourcePath))
	if err != nil {
		return stageErr("stage original video", err)
	}
	if err := h.stageOriginal(ctx, req, original.Path, logger); err != nil {
		return err
	}
	req.Progress.Report(6, "original video staged")

	// Probe and persist technical metadata.
	meta, err := h.media.Probe(ctx, original.Path)
	if err != nil {
		return stageErr("probe original video", err)
	}
	techJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return services.WrapError(services.KindSetup, flow.StageSetup, "encode tech metadata", err)
	}
	if _, err := repo.Create(assets.KindTechMetadata, "tech_metadata.json"); err != nil {
		return stageErr("create tech metadata asset", err)
	}
	if err := repo.WriteContent(assets.KindTechMetadata, techJSON); err != nil {
		return stageErr("write tech metadata", err)
	}
	req.Progress.Report(12, "video metadata captured")

	// Web-optimized rendition.
	optimized, err := repo.Create(assets.KindOptimizedVideo, optimizedName(original.Filename))
	if err != nil {
		return stageErr("create optimized asset", err)
	}
	if err := h.media.Optimize(ctx, original.Path, optimized.Path); err != nil {
		return stageErr("optimize video", err)
	}
	req.Progress.Report(24, "optimized rendition encoded")

	// Speech audio for transcription.
	audio, err := repo.Create(assets.KindAudio, "audio.wav")
	if err != nil {
		return stageErr("create audio asset", err)
	}
	if err := h.media.ExtractAudio(ctx, optimized.Path, audio.Path); err != nil {
		return stageErr("extract audio", err)
	}

	// Thumbnail for the catalog.
	thumb, err := repo.Create(assets.KindThumbnail, "thumbnail.jpg")
	if err != nil {
		return stageErr("create thumbnail asset", err)
	}
	if err := h.media.Thumbnail(ctx, optimized.Path, thumb.Path); err != nil {
		return stageErr("extract thumbnail", err)
	}
	req.Progress.Report(33, "base assets ready")

	logger.Info("setup complete",
		logging.Float64("duration_seconds", meta.DurationSeconds),
		logging.Int("width", meta.Width),
		logging.Int("height", meta.Height))
	return nil
}

// stageOriginal places the original video at dest. A durable record wins
// over the submission's source path; having neither is a setup failure.
func (h *Handler) stageOriginal(ctx context.Context, req *stage.Request, dest string, logger *slog.Logger) error {
	rec, err := h.catalog.LatestAssetByKind(ctx, req.Submission.ID, string(assets.KindOriginalVideo))
	if err != nil {
		return services.WrapError(services.KindSetup, flow.StageSetup, "look up original video record", err)
	}
	if rec != nil && rec.StorageKey != "" {
		if err := h.objects.Download(ctx, string(assets.KindOriginalVideo), rec.StorageKey, dest); err != nil {
			return stageErr("download original video", err)
		}
		logger.Info("original staged from durable storage",
			logging.String("storage_key", rec.StorageKey))
		return nil
	}

	if _, err := os.Stat(req.Submission.SourcePath); err != nil {
		return services.NewError(services.KindSetup, flow.StageSetup,
			"original video not found in durable storage or at the submitted path")
	}
	if err := fileutil.CopyFile(req.Submission.SourcePath, dest); err != nil {
		return services.WrapError(services.KindSetup, flow.StageSetup, "copy uploaded video into staging", err)
	}
	return nil
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	// ffmpeg availability is checked at daemon startup; nothing network
	// bound here.
	return nil
}

func stageErr(msg string, err error) error {
	if services.KindOf(err) != services.KindTransient {
		return err
	}
	return services.WrapError(services.KindSetup, flow.StageSetup, msg, err)
}

func originalName(sourcePath string) string {
	if base := filepath.Base(sourcePath); base != "." && base != "/" && base != "" {
		return base
	}
	return "original.mp4"
}

func optimizedName(original string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	if base == "" {
		base = "video"
	}
	return fmt.Sprintf("%s-optimized.mp4", base)
}
