package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top level daemon configuration loaded from TOML.
type Config struct {
	Paths         PathsConfig         `toml:"paths"`
	Workflow      WorkflowConfig      `toml:"workflow"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Topics        TopicsConfig        `toml:"topics"`
	StockFootage  StockFootageConfig  `toml:"stock_footage"`
	ObjectStore   ObjectStoreConfig   `toml:"object_store"`
	ImageHost     ImageHostConfig     `toml:"image_host"`
	FFmpeg        FFmpegConfig        `toml:"ffmpeg"`
	Logging       LoggingConfig       `toml:"logging"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
}

type PathsConfig struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	LockFile   string `toml:"lock_file"`
}

type WorkflowConfig struct {
	QueuePollIntervalSeconds int    `toml:"queue_poll_interval_seconds"`
	ErrorRetryIntervalSec    int    `toml:"error_retry_interval_seconds"`
	HeartbeatIntervalSec     int    `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSec      int    `toml:"heartbeat_timeout_seconds"`
	MaxConcurrent            int    `toml:"max_concurrent"`
	RateLimitMax             int    `toml:"rate_limit_max"`
	RateLimitWindowSec       int    `toml:"rate_limit_window_seconds"`
	StagingMaxAgeHours       int    `toml:"staging_max_age_hours"`
	CleanupSchedule          string `toml:"cleanup_schedule"`
}

type TranscriptionConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type TopicsConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	MaxTopics      int    `toml:"max_topics"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type StockFootageConfig struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	PerPage            int    `toml:"per_page"`
	MinDurationSeconds int    `toml:"min_duration_seconds"`
	MinHeight          int    `toml:"min_height"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

type ObjectStoreConfig struct {
	Endpoint       string        `toml:"endpoint"`
	Region         string        `toml:"region"`
	AccessKey      string        `toml:"access_key"`
	SecretKey      string        `toml:"secret_key"`
	ForcePathStyle bool          `toml:"force_path_style"`
	Buckets        BucketsConfig `toml:"buckets"`
}

type BucketsConfig struct {
	OriginalVideos   string `toml:"original_videos"`
	OptimizedVideos  string `toml:"optimized_videos"`
	CaptionedVideos  string `toml:"captioned_videos"`
	GeneratedVideos  string `toml:"generated_videos"`
	AudioTracks      string `toml:"audio_tracks"`
	SRTTranscripts   string `toml:"srt_transcripts"`
	PlainTranscripts string `toml:"plain_transcripts"`
}

type ImageHostConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type FFmpegConfig struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	MaxWidth      int    `toml:"max_width"`
	VideoBitrate  string `toml:"video_bitrate"`
	AudioBitrate  string `toml:"audio_bitrate"`
}

type LoggingConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// PipelineConfig tunes stage behavior. OnEmptyBroll selects what happens when
// no usable stock clip exists for any extracted topic: "skip" carries the
// optimized video forward, "fail" marks the job failed.
type PipelineConfig struct {
	OnEmptyBroll     string `toml:"on_empty_broll"`
	SkipCaptionsWhen string `toml:"skip_captions_when"`
}

const (
	OnEmptyBrollSkip = "skip"
	OnEmptyBrollFail = "fail"

	SkipCaptionsWhenDisabled = "disabled"
	SkipCaptionsNever        = "never"
)

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".local", "share", "videoforge")
	return Config{
		Paths: PathsConfig{
			StagingDir: filepath.Join(base, "staging"),
			LogDir:     filepath.Join(base, "logs"),
			APIBind:    "127.0.0.1:7575",
			LockFile:   filepath.Join(base, "videoforge.lock"),
		},
		Workflow: WorkflowConfig{
			QueuePollIntervalSeconds: 2,
			ErrorRetryIntervalSec:    10,
			HeartbeatIntervalSec:     15,
			HeartbeatTimeoutSec:      120,
			MaxConcurrent:            2,
			RateLimitMax:             10,
			RateLimitWindowSec:       60,
			StagingMaxAgeHours:       24,
			CleanupSchedule:          "0 * * * *",
		},
		Transcription: TranscriptionConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "whisper-1",
			Language:       "en",
			TimeoutSeconds: 300,
		},
		Topics: TopicsConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			MaxTopics:      5,
			TimeoutSeconds: 120,
		},
		StockFootage: StockFootageConfig{
			BaseURL:            "https://api.pexels.com",
			PerPage:            10,
			MinDurationSeconds: 5,
			MinHeight:          720,
			TimeoutSeconds:     60,
		},
		ObjectStore: ObjectStoreConfig{
			Region: "auto",
			Buckets: BucketsConfig{
				OriginalVideos:   "original-videos",
				OptimizedVideos:  "optimized-videos",
				CaptionedVideos:  "captioned-videos",
				GeneratedVideos:  "generated-videos",
				AudioTracks:      "audio-tracks",
				SRTTranscripts:   "srt-transcripts",
				PlainTranscripts: "plain-transcripts",
			},
		},
		ImageHost: ImageHostConfig{
			BaseURL:        "https://api.imgbb.com/1",
			TimeoutSeconds: 60,
		},
		FFmpeg: FFmpegConfig{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			MaxWidth:      1920,
			VideoBitrate:  "2000k",
			AudioBitrate:  "128k",
		},
		Logging: LoggingConfig{
			Format: "",
			Level:  "info",
		},
		Pipeline: PipelineConfig{
			OnEmptyBroll:     OnEmptyBrollSkip,
			SkipCaptionsWhen: SkipCaptionsWhenDisabled,
		},
	}
}

// Load reads the config file at path, layering it over defaults. A missing
// file is not an error; defaults plus environment fallbacks apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.normalize()
	return &cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves them
// blank. A .env beside the working directory is honored for development.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	fill(&c.Transcription.APIKey, "VIDEOFORGE_TRANSCRIPTION_API_KEY", "OPENAI_API_KEY")
	fill(&c.Topics.APIKey, "VIDEOFORGE_TOPICS_API_KEY", "OPENAI_API_KEY")
	fill(&c.StockFootage.APIKey, "VIDEOFORGE_STOCK_FOOTAGE_API_KEY", "PEXELS_API_KEY")
	fill(&c.ObjectStore.AccessKey, "VIDEOFORGE_OBJECT_STORE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	fill(&c.ObjectStore.SecretKey, "VIDEOFORGE_OBJECT_STORE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	fill(&c.ObjectStore.Endpoint, "VIDEOFORGE_OBJECT_STORE_ENDPOINT")
	fill(&c.ImageHost.APIKey, "VIDEOFORGE_IMAGE_HOST_API_KEY", "IMGBB_API_KEY")
}

func (c *Config) normalize() {
	c.Paths.StagingDir = expandPath(c.Paths.StagingDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Paths.LockFile = expandPath(c.Paths.LockFile)

	if c.Workflow.QueuePollIntervalSeconds <= 0 {
		c.Workflow.QueuePollIntervalSeconds = 2
	}
	if c.Workflow.ErrorRetryIntervalSec <= 0 {
		c.Workflow.ErrorRetryIntervalSec = 10
	}
	if c.Workflow.HeartbeatIntervalSec <= 0 {
		c.Workflow.HeartbeatIntervalSec = 15
	}
	if c.Workflow.HeartbeatTimeoutSec <= c.Workflow.HeartbeatIntervalSec {
		c.Workflow.HeartbeatTimeoutSec = c.Workflow.HeartbeatIntervalSec * 8
	}
	if c.Workflow.MaxConcurrent <= 0 {
		c.Workflow.MaxConcurrent = 1
	}
	if c.Workflow.StagingMaxAgeHours <= 0 {
		c.Workflow.StagingMaxAgeHours = 24
	}
	if c.Workflow.CleanupSchedule == "" {
		c.Workflow.CleanupSchedule = "0 * * * *"
	}
	if c.FFmpeg.MaxWidth <= 0 {
		c.FFmpeg.MaxWidth = 1920
	}
	c.Pipeline.OnEmptyBroll = strings.ToLower(strings.TrimSpace(c.Pipeline.OnEmptyBroll))
	if c.Pipeline.OnEmptyBroll == "" {
		c.Pipeline.OnEmptyBroll = OnEmptyBrollSkip
	}
	c.Pipeline.SkipCaptionsWhen = strings.ToLower(strings.TrimSpace(c.Pipeline.SkipCaptionsWhen))
	if c.Pipeline.SkipCaptionsWhen == "" {
		c.Pipeline.SkipCaptionsWhen = SkipCaptionsWhenDisabled
	}
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures mid-pipeline.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.StagingDir == "" {
		problems = append(problems, "paths.staging_dir must be set")
	}
	if c.Paths.APIBind == "" {
		problems = append(problems, "paths.api_bind must be set")
	}
	if c.Workflow.MaxConcurrent < 1 {
		problems = append(problems, "workflow.max_concurrent must be at least 1")
	}
	if c.Pipeline.OnEmptyBroll != OnEmptyBrollSkip && c.Pipeline.OnEmptyBroll != OnEmptyBrollFail {
		problems = append(problems, fmt.Sprintf("pipeline.on_empty_broll must be %q or %q", OnEmptyBrollSkip, OnEmptyBrollFail))
	}
	if c.Pipeline.SkipCaptionsWhen != SkipCaptionsWhenDisabled && c.Pipeline.SkipCaptionsWhen != SkipCaptionsNever {
		problems = append(problems, fmt.Sprintf("pipeline.skip_captions_when must be %q or %q", SkipCaptionsWhenDisabled, SkipCaptionsNever))
	}
	if c.FFmpeg.FFmpegBinary == "" {
		problems = append(problems, "ffmpeg.ffmpeg_binary must be set")
	}
	if c.FFmpeg.FFprobeBinary == "" {
		problems = append(problems, "ffmpeg.ffprobe_binary must be set")
	}
	for _, bucket := range []struct{ name, value string }{
		{"object_store.buckets.original_videos", c.ObjectStore.Buckets.OriginalVideos},
		{"object_store.buckets.optimized_videos", c.ObjectStore.Buckets.OptimizedVideos},
		{"object_store.buckets.captioned_videos", c.ObjectStore.Buckets.CaptionedVideos},
		{"object_store.buckets.generated_videos", c.ObjectStore.Buckets.GeneratedVideos},
		{"object_store.buckets.audio_tracks", c.ObjectStore.Buckets.AudioTracks},
		{"object_store.buckets.srt_transcripts", c.ObjectStore.Buckets.SRTTranscripts},
		{"object_store.buckets.plain_transcripts", c.ObjectStore.Buckets.PlainTranscripts},
	} {
		if bucket.value == "" {
			problems = append(problems, bucket.name+" must be set")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// EnsureDirectories creates the staging and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, filepath.Dir(c.Paths.LockFile)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the SQLite file backing the job queue.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.StagingDir, "queue.db")
}

// CatalogDatabasePath returns the SQLite file backing the durable catalog.
func (c *Config) CatalogDatabasePath() string {
	return filepath.Join(c.Paths.StagingDir, "catalog.db")
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "videoforge", "config.toml")
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Clean(path)
}
