package segment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"testing"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		timestamp float64
		pad       float64
		total     float64
		want      Window
	}{
		{"middle of video", 125, 30, 60, Window{Start: 95, Duration: 60}},
		{"clamped at zero", 12.5, 30, 60, Window{Start: 0, Duration: 60}},
		{"exactly pad", 30, 30, 60, Window{Start: 0, Duration: 60}},
		{"negative timestamp", -5, 30, 60, Window{Start: 0, Duration: 60}},
		{"custom pad", 100, 10, 20, Window{Start: 90, Duration: 20}},
		{"zero pad starts at timestamp", 100, 0, 20, Window{Start: 100, Duration: 20}},
		{"negative pad falls back", 100, -1, 0, Window{Start: 70, Duration: 60}},
		{"NaN pad falls back", 100, math.NaN(), 60, Window{Start: 70, Duration: 60}},
		{"NaN total falls back", 100, 10, math.NaN(), Window{Start: 90, Duration: 60}},
		{"NaN timestamp", math.NaN(), 30, 60, Window{Start: 0, Duration: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Plan(tt.timestamp, tt.pad, tt.total); got != tt.want {
				t.Errorf("Plan(%v, %v, %v) = %+v, want %+v", tt.timestamp, tt.pad, tt.total, got, tt.want)
			}
		})
	}
}

func TestPlanDefault_NeverNegative(t *testing.T) {
	for ts := 0.0; ts < 200; ts += 0.75 {
		w := PlanDefault(ts)
		if w.Start < 0 {
			t.Fatalf("PlanDefault(%v).Start = %v, want >= 0", ts, w.Start)
		}
		if want := math.Max(0, ts-30); w.Start != want {
			t.Fatalf("PlanDefault(%v).Start = %v, want %v", ts, w.Start, want)
		}
		if w.Duration != 60 {
			t.Fatalf("PlanDefault(%v).Duration = %v, want 60", ts, w.Duration)
		}
	}
}

func TestSegmentKey(t *testing.T) {
	if got := SegmentKey("", "sess-1", 125.9, 60); got != "cme-segments/sess-1/segment_125_60.mp4" {
		t.Errorf("SegmentKey = %q", got)
	}
	if got := FrameKey("custom", "sess-1", -3); got != "custom/sess-1/frames/frame_0.jpg" {
		t.Errorf("FrameKey = %q", got)
	}
}

type fakeFiles struct {
	downloadErr error
	uploadErr   error
	uploaded    map[string][]byte
}

func (f *fakeFiles) DownloadToTempFile(ctx context.Context, bucket, key string) (string, func(), error) {
	if f.downloadErr != nil {
		return "", nil, f.downloadErr
	}
	tmp, err := os.CreateTemp("", "fake-src-*")
	if err != nil {
		return "", nil, err
	}
	tmp.Close()
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (f *fakeFiles) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[key] = data
	return nil
}

// writingRunner writes payload to the last argument, as ffmpeg writes its output file.
func writingRunner(payload []byte, args *[]string) Runner {
	return func(ctx context.Context, name string, a ...string) ([]byte, error) {
		*args = a
		return nil, os.WriteFile(a[len(a)-1], payload, 0o600)
	}
}

func TestExtractor_Extract(t *testing.T) {
	files := &fakeFiles{}
	var args []string
	e := NewExtractor(files, writingRunner([]byte("segment"), &args), "/usr/bin/ffmpeg")

	key, err := e.Extract(context.Background(), "bucket", "video.mp4", "cme-segments/s/segment_95_60.mp4", Window{Start: 65, Duration: 60})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if key != "cme-segments/s/segment_95_60.mp4" {
		t.Errorf("key = %q", key)
	}
	if string(files.uploaded[key]) != "segment" {
		t.Errorf("uploaded content = %q", files.uploaded[key])
	}
	if args[2] != "-ss" || args[3] != "65.000" || args[4] != "-t" || args[5] != "60.000" {
		t.Errorf("unexpected ffmpeg args: %v", args)
	}
}

func TestExtractor_Failures(t *testing.T) {
	failRun := func(ctx context.Context, name string, a ...string) ([]byte, error) {
		return []byte("boom"), errors.New("exit status 1")
	}
	tests := []struct {
		name  string
		files *fakeFiles
		run   Runner
	}{
		{"download fails", &fakeFiles{downloadErr: errors.New("no such key")}, failRun},
		{"ffmpeg fails", &fakeFiles{}, failRun},
		{"upload fails", &fakeFiles{uploadErr: errors.New("denied")}, func(ctx context.Context, name string, a ...string) ([]byte, error) {
			return nil, os.WriteFile(a[len(a)-1], []byte("x"), 0o600)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(tt.files, tt.run, "/usr/bin/ffmpeg")
			if _, err := e.Extract(context.Background(), "b", "v.mp4", "out.mp4", PlanDefault(10)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestScaleJPEG(t *testing.T) {
	out, err := ScaleJPEG(testJPEG(t, 1280, 720), 640)
	if err != nil {
		t.Fatalf("ScaleJPEG: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 640 || cfg.Height != 360 {
		t.Errorf("scaled to %dx%d, want 640x360", cfg.Width, cfg.Height)
	}

	if _, err := ScaleJPEG([]byte("not a jpeg"), 640); err == nil {
		t.Error("expected decode error")
	}
}

func TestSnapshotter_Snapshot(t *testing.T) {
	files := &fakeFiles{}
	var args []string
	e := NewExtractor(files, writingRunner(testJPEG(t, 100, 50), &args), "/usr/bin/ffmpeg")
	s := NewSnapshotter(e, 0)

	key, err := s.Snapshot(context.Background(), "b", "v.mp4", "frames/f.jpg", 42)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(files.uploaded[key])); err != nil {
		t.Errorf("uploaded frame is not a JPEG: %v", err)
	}
	if args[1] != "42.000" {
		t.Errorf("expected seek to 42.000, got args %v", args)
	}
}
