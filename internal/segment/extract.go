package segment

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore is the subset of the blob store the extractor needs: whole-file
// transfer to and from local disk.
type FileStore interface {
	DownloadToTempFile(ctx context.Context, bucket, key string) (string, func(), error)
	UploadFile(ctx context.Context, bucket, key, localPath, contentType string) error
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Extractor cuts a segment out of a full recording with ffmpeg.
type Extractor struct {
	files      FileStore
	run        Runner
	ffmpegPath string
	timeout    time.Duration
}

// NewExtractor creates an Extractor. An empty ffmpegPath is resolved from
// PATH on first use.
func NewExtractor(files FileStore, run Runner, ffmpegPath string) *Extractor {
	if run == nil {
		run = ExecRunner
	}
	return &Extractor{
		files:      files,
		run:        run,
		ffmpegPath: ffmpegPath,
		timeout:    60 * time.Second,
	}
}

func (e *Extractor) ffmpeg() (string, error) {
	if e.ffmpegPath != "" {
		return e.ffmpegPath, nil
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return p, nil
}

// Extract downloads videoKey, cuts w out of it and uploads the result to
// destKey in the same bucket. Returns destKey on success.
func (e *Extractor) Extract(ctx context.Context, bucket, videoKey, destKey string, w Window) (string, error) {
	ffmpegPath, err := e.ffmpeg()
	if err != nil {
		return "", err
	}

	log.Debug().
		Str("bucket", bucket).
		Str("videoKey", videoKey).
		Float64("start", w.Start).
		Float64("duration", w.Duration).
		Msg("Extracting segment")

	input, cleanupInput, err := e.files.DownloadToTempFile(ctx, bucket, videoKey)
	if err != nil {
		return "", fmt.Errorf("download source video: %w", err)
	}
	defer cleanupInput()

	outDir, err := os.MkdirTemp("", "cme-segment-*")
	if err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	output := filepath.Join(outDir, filepath.Base(destKey))

	args := []string{
		"-i", input,
		"-ss", formatSeconds(w.Start),
		"-t", formatSeconds(w.Duration),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-y",
		output,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.run(runCtx, ffmpegPath, args...)
	if err != nil {
		log.Warn().
			Err(err).
			Str("videoKey", videoKey).
			Str("ffmpeg_output", tail(out, 2048)).
			Dur("duration", time.Since(start)).
			Msg("ffmpeg segment extraction failed")
		return "", fmt.Errorf("ffmpeg: %w", err)
	}

	if err := e.files.UploadFile(ctx, bucket, destKey, output, "video/mp4"); err != nil {
		return "", fmt.Errorf("upload segment: %w", err)
	}

	log.Info().
		Str("segmentKey", destKey).
		Dur("elapsed", time.Since(start)).
		Msg("Segment extracted")
	return destKey, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// tail keeps the last n bytes of ffmpeg output; the useful error is at the end.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
