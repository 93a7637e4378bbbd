package vision

import "sort"

// DefaultMinLabelConfidence is the label threshold used by Rekognition
// submissions and label extraction. Labels must score strictly above it.
const DefaultMinLabelConfidence = 60.0

// Detections is the typed result of a completed vision job. A motion job
// fills Labels, a pose job fills Persons. Every field is optional; the
// helpers below treat anything missing as empty.
type Detections struct {
	Labels  []LabelDetection  `json:"labels,omitempty"`
	Persons []PersonDetection `json:"persons,omitempty"`
}

// LabelDetection is one label observed at a point in the segment.
type LabelDetection struct {
	TimestampMs int64   `json:"timestampMs"`
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
}

// PersonDetection is one tracked subject observed at a point in the segment.
// Index is nil when the service could not assign the subject an identity.
type PersonDetection struct {
	TimestampMs int64  `json:"timestampMs"`
	Index       *int64 `json:"index,omitempty"`
}

// ExtractLabels returns the distinct label names whose confidence is strictly
// greater than minConfidence, sorted. A nil payload yields an empty slice.
func ExtractLabels(d *Detections, minConfidence float64) []string {
	if d == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(d.Labels))
	out := make([]string, 0, len(d.Labels))
	for _, l := range d.Labels {
		if l.Name == "" || !(l.Confidence > minConfidence) {
			continue
		}
		if _, dup := seen[l.Name]; dup {
			continue
		}
		seen[l.Name] = struct{}{}
		out = append(out, l.Name)
	}
	sort.Strings(out)
	return out
}

// CountDistinctSubjects counts distinct subject indices in a pose payload.
// Detections without an index are ignored. Never panics on a nil payload.
func CountDistinctSubjects(d *Detections) int {
	if d == nil {
		return 0
	}
	seen := make(map[int64]struct{})
	for _, p := range d.Persons {
		if p.Index == nil {
			continue
		}
		seen[*p.Index] = struct{}{}
	}
	return len(seen)
}
