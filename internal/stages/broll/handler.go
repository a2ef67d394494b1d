// Package broll implements the b-roll stage: extract topics from the
// transcript, find matching stock clips and overlay them onto the optimized
// video inside their transcript windows.
package broll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"videoforge/internal/assets"
	"videoforge/internal/config"
	"videoforge/internal/fileutil"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/services"
	"videoforge/internal/services/stockfootage"
	"videoforge/internal/services/topics"
	"videoforge/internal/services/transcriber"
	"videoforge/internal/stage"
)

type transcribeClient interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	HealthCheck(ctx context.Context) error
}

type topicsClient interface {
	Extract(ctx context.Context, timestampedTranscript string) (*topics.Extraction, error)
	HealthCheck(ctx context.Context) error
}

type footageClient interface {
	Search(ctx context.Context, keyword string) ([]stockfootage.Video, error)
	Download(ctx context.Context, link, dest string) error
	HealthCheck(ctx context.Context) error
}

type overlayRunner interface {
	Overlay(ctx context.Context, base, clip, output string, startSeconds, endSeconds float64) error
}

// Handler runs the b-roll stage.
type Handler struct {
	transcriber transcribeClient
	topics      topicsClient
	footage     footageClient
	media       overlayRunner
	criteria    stockfootage.Criteria
	onEmpty     string
	logger      *slog.Logger
}

func NewHandler(
	cfg *config.Config,
	transcriberClient *transcriber.Client,
	topicsClient *topics.Client,
	footageClient *stockfootage.Client,
	media overlayRunner,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		transcriber: transcriberClient,
		topics:      topicsClient,
		footage:     footageClient,
		media:       media,
		criteria: stockfootage.Criteria{
			MinDuration: time.Duration(cfg.StockFootage.MinDurationSeconds) * time.Second,
			MinHeight:   cfg.StockFootage.MinHeight,
		},
		onEmpty: cfg.Pipeline.OnEmptyBroll,
		logger:  logging.NewComponentLogger(logger, "stage.broll"),
	}
}

func (h *Handler) Stage() string { return flow.StageBroll }

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)

	if !req.Submission.GenerateBroll {
		logger.Info("b-roll not requested, stage is a no-op")
		req.Progress.Report(66, "b-roll skipped")
		return nil
	}

	cues, err := h.ensureTranscript(ctx, req)
	if err != nil {
		return err
	}
	req.Progress.Report(35, "transcript ready")

	extraction, err := h.extractTopics(ctx, req, cues)
	if err != nil {
		return err
	}
	req.Progress.Report(40, fmt.Sprintf("%d topics extracted", len(extraction.Topics)))

	applied, err := h.overlayClips(ctx, req, extraction.Topics)
	if err != nil {
		return err
	}

	if applied == 0 {
		if h.onEmpty == config.OnEmptyBrollFail {
			return services.NewError(services.KindBroll, flow.StageBroll,
				"no usable stock footage for any topic")
		}
		logger.Warn("no usable stock footage, carrying optimized video forward",
			logging.String(logging.FieldImpact, "output will have no b-roll overlays"))
	}
	req.Progress.Report(66, fmt.Sprintf("%d b-roll clips applied", applied))
	return nil
}

// ensureTranscript transcribes the staged audio unless a transcript already
// exists from a previous attempt of this run.
func (h *Handler) ensureTranscript(ctx context.Context, req *stage.Request) ([]transcriber.Cue, error) {
	if req.Repo.Has(assets.KindSRTTranscript) {
		content, err := req.Repo.ReadContent(assets.KindSRTTranscript)
		if err != nil {
			return nil, err
		}
		return transcriber.ParseSRT(string(content))
	}

	audio, err := req.Repo.Get(assets.KindAudio)
	if err != nil {
		return nil, err
	}
	srt, err := h.transcriber.Transcribe(ctx, audio.Path)
	if err != nil {
		return nil, wrapBroll("transcribe audio", err)
	}
	cues, err := transcriber.ParseSRT(srt)
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, services.NewError(services.KindBroll, flow.StageBroll,
			"transcription produced no subtitles")
	}

	if _, err := req.Repo.Create(assets.KindSRTTranscript, "transcript.srt"); err != nil {
		return nil, err
	}
	if err := req.Repo.WriteContent(assets.KindSRTTranscript, []byte(srt)); err != nil {
		return nil, err
	}
	if _, err := req.Repo.Create(assets.KindPlainTranscript, "transcript.txt"); err != nil {
		return nil, err
	}
	if err := req.Repo.WriteContent(assets.KindPlainTranscript, []byte(transcriber.PlainText(cues))); err != nil {
		return nil, err
	}
	return cues, nil
}

func (h *Handler) extractTopics(ctx context.Context, req *stage.Request, cues []transcriber.Cue) (*topics.Extraction, error) {
	extraction, err := h.topics.Extract(ctx, TimestampedTranscript(cues))
	if err != nil {
		return nil, wrapBroll("extract topics", err)
	}

	// Persist the extraction so failed runs can be diagnosed.
	encoded, err := json.MarshalIndent(extraction, "", "  ")
	if err != nil {
		return nil, services.WrapError(services.KindBroll, flow.StageBroll, "encode topics", err)
	}
	if _, err := req.Repo.Create(assets.KindKeywordExtraction, "topics.json"); err != nil {
		return nil, err
	}
	if err := req.Repo.WriteContent(assets.KindKeywordExtraction, encoded); err != nil {
		return nil, err
	}
	return extraction, nil
}

// overlayClips chains one ffmpeg overlay pass per usable topic, each pass
// consuming the previous output. Returns the number of clips applied.
func (h *Handler) overlayClips(ctx context.Context, req *stage.Request, extracted []topics.Topic) (int, error) {
	logger := logging.WithContext(ctx, h.logger)

	optimized, err := req.Repo.Get(assets.KindOptimizedVideo)
	if err != nil {
		return 0, err
	}

	clipDir, err := os.MkdirTemp(req.Repo.BaseDir(), "clips-")
	if err != nil {
		return 0, services.WrapError(services.KindBroll, flow.StageBroll, "create clip directory", err)
	}
	defer os.RemoveAll(clipDir)

	current := optimized.Path
	applied := 0
	for i, topic := range extracted {
		query := topic.SearchQuery()
		videos, err := h.footage.Search(ctx, query)
		if err != nil {
			return 0, wrapBroll(fmt.Sprintf("search footage for %q", query), err)
		}
		video, file, ok := stockfootage.SelectBest(videos, h.criteria)
		if !ok {
			logger.Info("no usable footage for topic", logging.String("query", query))
			continue
		}

		clipPath := filepath.Join(clipDir, stockfootage.ClipFilename(video))
		if err := h.footage.Download(ctx, file.Link, clipPath); err != nil {
			return 0, wrapBroll(fmt.Sprintf("download footage for %q", query), err)
		}

		output := filepath.Join(clipDir, fmt.Sprintf("pass-%d.mp4", i))
		if err := h.media.Overlay(ctx, current, clipPath, output, topic.StartSeconds, topic.EndSeconds); err != nil {
			return 0, wrapBroll(fmt.Sprintf("overlay footage for %q", query), err)
		}
		current = output
		applied++
	}

	if applied == 0 {
		return 0, nil
	}

	generated, err := req.Repo.Create(assets.KindGeneratedVideo, "generated.mp4")
	if err != nil {
		return 0, err
	}
	if err := fileutil.CopyFile(current, generated.Path); err != nil {
		return 0, services.WrapError(services.KindBroll, flow.StageBroll, "write generated video", err)
	}
	return applied, nil
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	if err := h.transcriber.HealthCheck(ctx); err != nil {
		return err
	}
	if err := h.topics.HealthCheck(ctx); err != nil {
		return err
	}
	return h.footage.HealthCheck(ctx)
}

// TimestampedTranscript renders cues as "[start-end] text" lines for the
// topic extraction prompt.
func TimestampedTranscript(cues []transcriber.Cue) string {
	var b []byte
	for _, c := range cues {
		b = fmt.Appendf(b, "[%.1f-%.1f] %s\n", c.Start.Seconds(), c.End.Seconds(), c.Text)
	}
	return string(b)
}

func wrapBroll(msg string, err error) error {
	if services.KindOf(err) != services.KindTransient {
		return err
	}
	return services.WrapError(services.KindBroll, flow.StageBroll, msg, err)
}
