// Package segment plans and cuts the video window around a declared test.
//
// Plan is pure. Extractor and Snapshotter shell out to ffmpeg the same way
// the rest of this codebase does (exec.CommandContext, combined output kept
// for the log line on failure) and move artifacts through the blob store.
package segment

import (
	"fmt"
	"math"
)

// Default window around a declared test: 30 seconds either side.
const (
	DefaultPad      = 30.0
	DefaultDuration = 60.0

	// DefaultKeyPrefix is the blob prefix under which segments are written.
	DefaultKeyPrefix = "cme-segments"
)

// Window is the extraction window handed to ffmpeg, in seconds.
type Window struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns Start + Duration.
func (w Window) End() float64 {
	return w.Start + w.Duration
}

// Plan computes the window for a declared timestamp. The start is clamped to
// zero, so negative or NaN timestamps are treated as zero rather than
// rejected. A zero pad starts the window at the timestamp; a negative or NaN
// pad and a non-positive or NaN total fall back to the defaults.
func Plan(timestamp, pad, total float64) Window {
	if math.IsNaN(timestamp) || timestamp < 0 {
		timestamp = 0
	}
	if !(pad >= 0) {
		pad = DefaultPad
	}
	if !(total > 0) {
		total = DefaultDuration
	}
	return Window{
		Start:    math.Max(0, timestamp-pad),
		Duration: total,
	}
}

// PlanDefault is Plan with the default pad and duration.
func PlanDefault(timestamp float64) Window {
	return Plan(timestamp, DefaultPad, DefaultDuration)
}

// SegmentKey builds the blob key for a segment cut around timestamp.
func SegmentKey(prefix, sessionID string, timestamp, duration float64) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if timestamp < 0 || math.IsNaN(timestamp) {
		timestamp = 0
	}
	return fmt.Sprintf("%s/%s/segment_%d_%d.mp4", prefix, sessionID, int64(timestamp), int64(duration))
}

// FrameKey builds the blob key for a still frame taken at timestamp.
func FrameKey(prefix, sessionID string, timestamp float64) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if timestamp < 0 || math.IsNaN(timestamp) {
		timestamp = 0
	}
	return fmt.Sprintf("%s/%s/frames/frame_%d.jpg", prefix, sessionID, int64(timestamp))
}
