// Package media wraps the ffmpeg and ffprobe binaries behind a small API the
// pipeline stages call. Argument construction is kept in pure functions so
// command contracts are testable without running the tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// commandRunner executes a binary with args and returns combined output.
// Tests swap it for a recorder.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// Runner invokes ffmpeg and ffprobe.
type Runner struct {
	ffmpeg  string
	ffprobe string
	params  EncodeParams
	run     commandRunner
	logger  *slog.Logger
}

func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		ffmpeg:  cfg.FFmpeg.FFmpegBinary,
		ffprobe: cfg.FFmpeg.FFprobeBinary,
		params: EncodeParams{
			MaxWidth:     cfg.FFmpeg.MaxWidth,
			VideoBitrate: cfg.FFmpeg.VideoBitrate,
			AudioBitrate: cfg.FFmpeg.AudioBitrate,
		},
		run:    runCommand,
		logger: logging.NewComponentLogger(logger, "media"),
	}
}

// Optimize transcodes input into the web-optimized H.264 rendition.
func (r *Runner) Optimize(ctx context.Context, input, output string) error {
	return r.exec(ctx, "optimize video", buildOptimizeArgs(input, output, r.params))
}

// ExtractAudio writes input's audio track as 16 kHz mono PCM WAV.
func (r *Runner) ExtractAudio(ctx context.Context, input, output string) error {
	return r.exec(ctx, "extract audio", buildExtractAudioArgs(input, output))
}

// Thumbnail captures a frame at ten percent of the video's duration.
func (r *Runner) Thumbnail(ctx context.Context, input, output string) error {
	meta, err := r.Probe(ctx, input)
	if err != nil {
		return err
	}
	return r.exec(ctx, "extract thumbnail", buildThumbnailArgs(input, output, meta.DurationSeconds*0.10))
}

// BurnSubtitles renders the SRT file into the video stream, copying audio.
func (r *Runner) BurnSubtitles(ctx context.Context, input, subtitles, output string) error {
	return r.exec(ctx, "burn subtitles", buildBurnSubtitlesArgs(input, subtitles, output))
}

// Overlay composites clip onto base inside the [start, end) window.
func (r *Runner) Overlay(ctx context.Context, base, clip, output string, startSeconds, endSeconds float64) error {
	return r.exec(ctx, "overlay clip", buildOverlayArgs(base, clip, output, startSeconds, endSeconds))
}

// Metadata summarizes the container and first video stream of a file.
type Metadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	VideoCodec      string  `json:"video_codec"`
	AudioCodec      string  `json:"audio_codec"`
	SizeBytes       int64   `json:"size_bytes"`
	BitRate         int64   `json:"bit_rate"`
}

// Probe runs ffprobe and extracts the fields the pipeline cares about.
func (r *Runner) Probe(ctx context.Context, input string) (*Metadata, error) {
	out, err := r.run(ctx, r.ffprobe, buildProbeArgs(input)...)
	if err != nil {
		return nil, services.WrapError(services.KindExternalTool, "",
			fmt.Sprintf("ffprobe failed: %s", truncateOutput(out)), err)
	}

	var raw struct {
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, services.WrapError(services.KindExternalTool, "", "parse ffprobe output", err)
	}

	meta := &Metadata{}
	meta.DurationSeconds, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	meta.SizeBytes, _ = strconv.ParseInt(raw.Format.Size, 10, 64)
	meta.BitRate, _ = strconv.ParseInt(raw.Format.BitRate, 10, 64)
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if meta.VideoCodec == "" {
				meta.VideoCodec = s.CodecName
				meta.Width = s.Width
				meta.Height = s.Height
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
		}
	}
	if meta.DurationSeconds <= 0 {
		return nil, services.NewError(services.KindExternalTool, "", "ffprobe reported no duration")
	}
	return meta, nil
}

func (r *Runner) exec(ctx context.Context, op string, args []string) error {
	r.logger.Debug("running ffmpeg",
		logging.String("operation", op),
		logging.Int("arg_count", len(args)))
	out, err := r.run(ctx, r.ffmpeg, args...)
	if err != nil {
		return services.WrapError(services.KindExternalTool, "",
			fmt.Sprintf("%s: %s", op, truncateOutput(out)), err)
	}
	return nil
}

func truncateOutput(out []byte) string {
	const max = 512
	if len(out) <= max {
		return string(bytes.TrimSpace(out))
	}
	return string(bytes.TrimSpace(out[len(out)-max:]))
}
