// Package config holds the runtime settings shared by the Lambdas and the
// CLI. Values come from an optional YAML file and environment variables;
// Validate checks required fields and fills defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fpang/cme-video-review/internal/segment"
)

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Vision   VisionConfig   `yaml:"vision"`
	Segment  SegmentConfig  `yaml:"segment"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StorageConfig struct {
	Bucket         string `yaml:"bucket"`
	TableName      string `yaml:"table_name"`
	SegmentPrefix  string `yaml:"segment_prefix"`
	EvidencePrefix string `yaml:"evidence_prefix"`
}

type VisionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

type SegmentConfig struct {
	// Pad is nil when unset, so an explicit 0 survives Validate.
	Pad            *float64 `yaml:"pad"`
	Duration       float64  `yaml:"duration"`
	FFmpegPath     string   `yaml:"ffmpeg_path"`
	FrameSnapshots bool     `yaml:"frame_snapshots"`
	SnapshotMaxDim int      `yaml:"snapshot_max_dim"`
}

// PadSeconds returns the configured pad, or the default when unset.
func (s SegmentConfig) PadSeconds() float64 {
	if s.Pad == nil {
		return segment.DefaultPad
	}
	return *s.Pad
}

type PipelineConfig struct {
	Concurrency  int    `yaml:"concurrency"`
	EventBus     string `yaml:"event_bus"`
	CatalogFile  string `yaml:"catalog_file"`
	PolicyFile   string `yaml:"policy_file"`
	ArchiveLevel int    `yaml:"archive_level"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Environment variables read by FromEnv.
const (
	EnvBucket         = "CME_MEDIA_BUCKET"
	EnvTable          = "CME_TABLE_NAME"
	EnvEventBus       = "CME_EVENT_BUS"
	EnvPollInterval   = "CME_POLL_INTERVAL"
	EnvMaxWait        = "CME_MAX_WAIT"
	EnvFFmpegPath     = "FFMPEG_PATH"
	EnvFrameSnapshots = "CME_FRAME_SNAPSHOTS"
)

// Load reads a YAML config file. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// FromEnv overlays environment variables onto c. Malformed durations and
// booleans are errors.
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvBucket); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv(EnvTable); v != "" {
		c.Storage.TableName = v
	}
	if v := os.Getenv(EnvEventBus); v != "" {
		c.Pipeline.EventBus = v
	}
	if v := os.Getenv(EnvFFmpegPath); v != "" {
		c.Segment.FFmpegPath = v
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		c.Vision.PollInterval = d
	}
	if v := os.Getenv(EnvMaxWait); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxWait, err)
		}
		c.Vision.MaxWait = d
	}
	if v := os.Getenv(EnvFrameSnapshots); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFrameSnapshots, err)
		}
		c.Segment.FrameSnapshots = b
	}
	return nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Vision.PollInterval < 0 || c.Vision.MaxWait < 0 {
		return fmt.Errorf("vision durations must not be negative")
	}
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("pipeline.concurrency must not be negative")
	}
	if c.Segment.Pad != nil && !(*c.Segment.Pad >= 0) {
		return fmt.Errorf("segment.pad must not be negative, got %v", *c.Segment.Pad)
	}

	if c.Storage.SegmentPrefix == "" {
		c.Storage.SegmentPrefix = segment.DefaultKeyPrefix
	}
	if c.Storage.EvidencePrefix == "" {
		c.Storage.EvidencePrefix = "cme-evidence"
	}
	if c.Vision.PollInterval == 0 {
		c.Vision.PollInterval = 10 * time.Second
	}
	if c.Vision.MaxWait == 0 {
		c.Vision.MaxWait = 10 * time.Minute
	}
	if c.Segment.Pad == nil {
		pad := segment.DefaultPad
		c.Segment.Pad = &pad
	}
	if c.Segment.Duration <= 0 {
		c.Segment.Duration = segment.DefaultDuration
	}
	if c.Segment.FFmpegPath == "" {
		c.Segment.FFmpegPath = "ffmpeg"
	}
	if c.Segment.SnapshotMaxDim == 0 {
		c.Segment.SnapshotMaxDim = segment.DefaultSnapshotMaxDimension
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 3
	}
	if c.Pipeline.ArchiveLevel == 0 {
		c.Pipeline.ArchiveLevel = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}
