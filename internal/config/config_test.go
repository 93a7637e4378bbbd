package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid config", Config{Storage: StorageConfig{Bucket: "cme-media"}}, false},
		{"missing bucket", Config{}, true},
		{"negative wait", Config{Storage: StorageConfig{Bucket: "b"}, Vision: VisionConfig{MaxWait: -time.Second}}, true},
		{"negative concurrency", Config{Storage: StorageConfig{Bucket: "b"}, Pipeline: PipelineConfig{Concurrency: -1}}, true},
		{"zero pad", Config{Storage: StorageConfig{Bucket: "b"}, Segment: SegmentConfig{Pad: ptr(0.0)}}, false},
		{"negative pad", Config{Storage: StorageConfig{Bucket: "b"}, Segment: SegmentConfig{Pad: ptr(-1.0)}}, true},
		{"NaN pad", Config{Storage: StorageConfig{Bucket: "b"}, Segment: SegmentConfig{Pad: ptr(math.NaN())}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	c := Config{Storage: StorageConfig{Bucket: "cme-media"}}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Storage.SegmentPrefix != "cme-segments" || c.Storage.EvidencePrefix != "cme-evidence" {
		t.Errorf("prefix defaults: %+v", c.Storage)
	}
	if c.Vision.PollInterval != 10*time.Second || c.Vision.MaxWait != 10*time.Minute {
		t.Errorf("vision defaults: %+v", c.Vision)
	}
	if c.Segment.PadSeconds() != 30 || c.Segment.Duration != 60 || c.Segment.FFmpegPath != "ffmpeg" {
		t.Errorf("segment defaults: %+v", c.Segment)
	}
	if c.Pipeline.Concurrency != 3 {
		t.Errorf("concurrency default = %d", c.Pipeline.Concurrency)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cme.yaml")
	content := `
storage:
  bucket: "cme-media"
  table_name: "cme-sessions"
vision:
  poll_interval: 5s
  max_wait: 2m
segment:
  pad: 20
  frame_snapshots: true
pipeline:
  concurrency: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.TableName != "cme-sessions" || cfg.Vision.PollInterval != 5*time.Second || cfg.Vision.MaxWait != 2*time.Minute {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Segment.PadSeconds() != 20 || cfg.Segment.Duration != 60 || !cfg.Segment.FrameSnapshots || cfg.Pipeline.Concurrency != 2 {
		t.Errorf("unexpected segment/pipeline config %+v %+v", cfg.Segment, cfg.Pipeline)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvBucket, "env-bucket")
	t.Setenv(EnvMaxWait, "90s")
	t.Setenv(EnvFrameSnapshots, "true")
	var c Config
	if err := c.FromEnv(); err != nil {
		t.Fatal(err)
	}
	if c.Storage.Bucket != "env-bucket" || c.Vision.MaxWait != 90*time.Second || !c.Segment.FrameSnapshots {
		t.Errorf("unexpected config %+v", c)
	}

	t.Setenv(EnvPollInterval, "soon")
	if err := c.FromEnv(); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestLoad_ZeroPad(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
	}{
		{"explicit zero", "storage:\n  bucket: b\nsegment:\n  pad: 0\n", 0},
		{"unset", "storage:\n  bucket: b\n", 30},
		{"fractional", "storage:\n  bucket: b\nsegment:\n  pad: 2.5\n", 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cme.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatal(err)
			}
			if got := cfg.Segment.PadSeconds(); got != tt.want {
				t.Errorf("PadSeconds() = %v, want %v", got, tt.want)
			}
		})
	}
}
