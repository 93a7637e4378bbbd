package segment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultSnapshotMaxDimension bounds the longer edge of report snapshots.
const DefaultSnapshotMaxDimension = 640

// Snapshotter grabs a single still frame at a declared timestamp for report
// inclusion. Snapshots are best-effort evidence; callers log and continue
// on error.
type Snapshotter struct {
	extractor    *Extractor
	maxDimension int
}

// NewSnapshotter shares the extractor's store, runner and ffmpeg path.
func NewSnapshotter(e *Extractor, maxDimension int) *Snapshotter {
	if maxDimension <= 0 {
		maxDimension = DefaultSnapshotMaxDimension
	}
	return &Snapshotter{extractor: e, maxDimension: maxDimension}
}

// Snapshot writes a JPEG frame taken at timestamp to destKey.
func (s *Snapshotter) Snapshot(ctx context.Context, bucket, videoKey, destKey string, timestamp float64) (string, error) {
	e := s.extractor
	ffmpegPath, err := e.ffmpeg()
	if err != nil {
		return "", err
	}
	if timestamp < 0 {
		timestamp = 0
	}

	input, cleanupInput, err := e.files.DownloadToTempFile(ctx, bucket, videoKey)
	if err != nil {
		return "", fmt.Errorf("download source video: %w", err)
	}
	defer cleanupInput()

	dir, err := os.MkdirTemp("", "cme-frame-*")
	if err != nil {
		return "", fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	raw := filepath.Join(dir, "raw.jpg")
	out, err := e.run(ctx, ffmpegPath,
		"-ss", formatSeconds(timestamp),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", raw,
	)
	if err != nil {
		log.Warn().Err(err).Str("ffmpeg_output", tail(out, 1024)).Msg("ffmpeg frame grab failed")
		return "", fmt.Errorf("ffmpeg frame grab: %w", err)
	}

	data, err := os.ReadFile(raw)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	scaled, err := ScaleJPEG(data, s.maxDimension)
	if err != nil {
		return "", err
	}

	final := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(final, scaled, 0o600); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	if err := e.files.UploadFile(ctx, bucket, destKey, final, "image/jpeg"); err != nil {
		return "", fmt.Errorf("upload frame: %w", err)
	}
	log.Debug().Str("frameKey", destKey).Float64("timestamp", timestamp).Msg("Frame snapshot stored")
	return destKey, nil
}

// ScaleJPEG decodes a JPEG, shrinks it so that neither edge exceeds
// maxDimension and re-encodes it. Images already within bounds are
// re-encoded at their original size.
func ScaleJPEG(data []byte, maxDimension int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxDimension || h > maxDimension {
		if w >= h {
			h = h * maxDimension / w
			w = maxDimension
		} else {
			w = w * maxDimension / h
			h = maxDimension
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
