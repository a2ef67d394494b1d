// Package captions implements the caption stage: burn the SRT transcript
// into the current video rendition.
package captions

import (
	"context"
	"log/slog"

	"videoforge/internal/assets"
	"videoforge/internal/config"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/services"
	"videoforge/internal/services/transcriber"
	"videoforge/internal/stage"
)

type transcribeClient interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	HealthCheck(ctx context.Context) error
}

type burnRunner interface {
	BurnSubtitles(ctx context.Context, input, subtitles, output string) error
}

// Handler runs the caption stage.
type Handler struct {
	transcriber transcribeClient
	media       burnRunner
	skipWhen    string
	logger      *slog.Logger
}

func NewHandler(cfg *config.Config, transcriberClient *transcriber.Client, media burnRunner, logger *slog.Logger) *Handler {
	return &Handler{
		transcriber: transcriberClient,
		media:       media,
		skipWhen:    cfg.Pipeline.SkipCaptionsWhen,
		logger:      logging.NewComponentLogger(logger, "stage.captions"),
	}
}

func (h *Handler) Stage() string { return flow.StageCaptions }

func (h *Handler) Execute(ctx context.Context, req *stage.Request) error {
	logger := logging.WithContext(ctx, h.logger)

	if !req.Submission.GenerateCaptions && h.skipWhen != config.SkipCaptionsNever {
		logger.Info("captions not requested, stage is a no-op")
		req.Progress.Report(90, "captions skipped")
		return nil
	}

	if err := h.ensureTranscript(ctx, req); err != nil {
		return err
	}
	req.Progress.Report(70, "transcript ready for burn-in")

	// Burn onto the b-roll output when one exists, otherwise onto the
	// optimized rendition.
	inputKind := assets.KindOptimizedVideo
	if req.Repo.Has(assets.KindGeneratedVideo) {
		inputKind = assets.KindGeneratedVideo
	}
	input, err := req.Repo.Get(inputKind)
	if err != nil {
		return err
	}
	srt, err := req.Repo.Get(assets.KindSRTTranscript)
	if err != nil {
		return err
	}

	captioned, err := req.Repo.Create(assets.KindCaptionedVideo, "captioned.mp4")
	if err != nil {
		return err
	}
	if err := h.media.BurnSubtitles(ctx, input.Path, srt.Path, captioned.Path); err != nil {
		if services.KindOf(err) != services.KindTransient {
			return err
		}
		return services.WrapError(services.KindCaptions, flow.StageCaptions, "burn subtitles", err)
	}
	req.Progress.Report(90, "captions burned in")

	logger.Info("captions complete", logging.String("input_kind", string(inputKind)))
	return nil
}

// ensureTranscript transcribes staged audio when the b-roll stage did not
// already produce a transcript.
func (h *Handler) ensureTranscript(ctx context.Context, req *stage.Request) error {
	if req.Repo.Has(assets.KindSRTTranscript) {
		return nil
	}

	audio, err := req.Repo.Get(assets.KindAudio)
	if err != nil {
		return err
	}
	srt, err := h.transcriber.Transcribe(ctx, audio.Path)
	if err != nil {
		if services.KindOf(err) != services.KindTransient {
			return err
		}
		return services.WrapError(services.KindCaptions, flow.StageCaptions, "transcribe audio", err)
	}
	cues, err := transcriber.ParseSRT(srt)
	if err != nil {
		return err
	}
	if len(cues) == 0 {
		return services.NewError(services.KindCaptions, flow.StageCaptions,
			"transcription produced no subtitles")
	}

	if _, err := req.Repo.Create(assets.KindSRTTranscript, "transcript.srt"); err != nil {
		return err
	}
	if err := req.Repo.WriteContent(assets.KindSRTTranscript, []byte(srt)); err != nil {
		return err
	}
	if _, err := req.Repo.Create(assets.KindPlainTranscript, "transcript.txt"); err != nil {
		return err
	}
	return req.Repo.WriteContent(assets.KindPlainTranscript, []byte(transcriber.PlainText(cues)))
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	return h.transcriber.HealthCheck(ctx)
}
