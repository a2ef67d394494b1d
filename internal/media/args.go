package media

import (
	"fmt"
	"strings"
)

// Encoding parameters for the web-optimized rendition.
const (
	videoCodec   = "libx264"
	videoPreset  = "veryslow"
	videoCRF     = "23"
	videoProfile = "main"
	videoLevel   = "4.0"
	pixelFormat  = "yuv420p"
	audioCodec   = "aac"
	audioRate    = "44100"
	audioChans   = "2"

	// Speech models expect 16 kHz mono PCM.
	speechSampleRate = "16000"

	thumbnailWidth  = 640
	thumbnailHeight = 360

	subtitleStyle = "Fontname=Arial,FontSize=24,PrimaryColour=&Hffffff,OutlineColour=&H000000,BorderStyle=3,Outline=1"
)

// EncodeParams carries the tunable knobs for the optimize pass.
type EncodeParams struct {
	MaxWidth     int
	VideoBitrate string
	AudioBitrate string
}

func buildOptimizeArgs(input, output string, p EncodeParams) []string {
	// Even dimensions are required by yuv420p; -2 preserves aspect ratio.
	scale := fmt.Sprintf("scale='min(%d,iw)':-2", p.MaxWidth)
	return []string{
		"-i", input,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-profile:v", videoProfile,
		"-level", videoLevel,
		"-pix_fmt", pixelFormat,
		"-vf", scale,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.VideoBitrate,
		"-bufsize", doubleBitrate(p.VideoBitrate),
		"-c:a", audioCodec,
		"-b:a", p.AudioBitrate,
		"-ar", audioRate,
		"-ac", audioChans,
		"-movflags", "+faststart",
		"-y", output,
	}
}

func buildExtractAudioArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", speechSampleRate,
		"-ac", "1",
		"-y", output,
	}
}

func buildThumbnailArgs(input, output string, timestampSeconds float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.3f", timestampSeconds),
		"-i", input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", thumbnailWidth, thumbnailHeight),
		"-y", output,
	}
}

func buildBurnSubtitlesArgs(input, subtitles, output string) []string {
	filter := fmt.Sprintf("subtitles=%s:force_style='%s'", escapeFilterPath(subtitles), subtitleStyle)
	return []string{
		"-i", input,
		"-vf", filter,
		"-c:a", "copy",
		"-y", output,
	}
}

func buildOverlayArgs(base, clip, output string, startSeconds, endSeconds float64) []string {
	// Clip scaled to a third of the base width, pinned to the top-right
	// corner with a 20px inset, shown only inside its transcript window.
	filter := fmt.Sprintf(
		"[1:v]scale=iw/3:-1[clip];[0:v][clip]overlay=W-w-20:20:enable='between(t,%.3f,%.3f)'",
		startSeconds, endSeconds,
	)
	return []string{
		"-i", base,
		"-i", clip,
		"-filter_complex", filter,
		"-c:a", "copy",
		"-y", output,
	}
}

func buildProbeArgs(input string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}
}

// escapeFilterPath quotes characters ffmpeg's filter parser treats as
// delimiters.
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`)
	return r.Replace(path)
}

func doubleBitrate(bitrate string) string {
	trimmed := strings.TrimSuffix(bitrate, "k")
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n <= 0 {
		return bitrate
	}
	return fmt.Sprintf("%dk", n*2)
}
