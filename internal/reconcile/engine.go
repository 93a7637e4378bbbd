// Package reconcile decides whether a declared test was actually performed,
// given the two completed vision jobs and the test's catalog expectation.
//
// The engine has no I/O and no state beyond its Policy. It is total: every
// combination of job states and payloads yields a defined Verdict, and
// absence of evidence never turns into a positive verdict.
package reconcile

import (
	"strings"

	"github.com/fpang/cme-video-review/internal/catalog"
	"github.com/fpang/cme-video-review/internal/vision"
)

// MotionPresence is the verdict on whether the expected motion was seen.
type MotionPresence string

const (
	MotionPerformed   MotionPresence = "performed"
	MotionBrief       MotionPresence = "brief"
	MotionNotObserved MotionPresence = "not_observed"
	MotionUnknown     MotionPresence = "unknown"
)

// PoseMatch is the verdict on whether examiner and patient were both in frame
// for the motion.
type PoseMatch string

const (
	PoseFullMatch PoseMatch = "full_match"
	PosePartial   PoseMatch = "partial"
	PoseNoMatch   PoseMatch = "no_match"
	PoseUnknown   PoseMatch = "unknown"
)

// Verdict is the reconciliation triple plus the evidence it was derived from.
type Verdict struct {
	MotionPresent MotionPresence `json:"motionPresent"`
	PoseMatch     PoseMatch      `json:"poseMatch"`
	Confidence    float64        `json:"confidence"`

	Labels           []string `json:"labels"`
	PersonCount      int      `json:"personCount"`
	MatchedMovements []string `json:"matchedMovements"`
	MatchRatio       float64  `json:"matchRatio"`
}

// Conservative is the verdict used whenever evidence is missing.
func Conservative() Verdict {
	return Verdict{
		MotionPresent:    MotionNotObserved,
		PoseMatch:        PoseNoMatch,
		Confidence:       0,
		Labels:           []string{},
		MatchedMovements: []string{},
	}
}

// Engine applies a Policy. The zero value is not usable; use New.
type Engine struct {
	policy Policy
}

// New returns an engine for p. Callers validate p beforehand.
func New(p Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the policy the engine applies.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Reconcile compares the motion and pose job results against exp. When
// either job did not complete the verdict is Conservative, but the labels
// or person count of the job that did complete are kept as evidence.
func (e *Engine) Reconcile(motion, pose vision.AsyncJob, exp catalog.TestExpectation) Verdict {
	motionDone := motion.Status == vision.StatusCompleted
	poseDone := pose.Status == vision.StatusCompleted
	if !motionDone || !poseDone {
		v := Conservative()
		if motionDone {
			v.Labels = vision.ExtractLabels(motion.Result, e.policy.MinLabelConfidence)
		}
		if poseDone {
			v.PersonCount = vision.CountDistinctSubjects(pose.Result)
		}
		return v
	}

	v := Verdict{
		Labels:      vision.ExtractLabels(motion.Result, e.policy.MinLabelConfidence),
		PersonCount: vision.CountDistinctSubjects(pose.Result),
	}
	v.MatchedMovements = MatchMovements(exp.ExpectedMovements, v.Labels)

	if n := len(exp.ExpectedMovements); n > 0 {
		v.MatchRatio = float64(len(v.MatchedMovements)) / float64(n)
	}

	switch {
	case v.MatchRatio > 0 && v.MatchRatio >= e.policy.PerformedRatio:
		v.MotionPresent = MotionPerformed
		v.Confidence = e.policy.PerformedConfidence
	case v.MatchRatio > 0:
		v.MotionPresent = MotionBrief
		v.Confidence = e.policy.BriefConfidence
	default:
		v.MotionPresent = MotionNotObserved
		v.Confidence = e.policy.NotObservedConfidence
	}

	if v.PersonCount >= e.policy.MinSubjects {
		switch v.MotionPresent {
		case MotionPerformed:
			v.PoseMatch = PoseFullMatch
		case MotionBrief:
			v.PoseMatch = PosePartial
		default:
			v.PoseMatch = PoseNoMatch
		}
	} else {
		v.PoseMatch = PoseNoMatch
		if v.Confidence > e.policy.InsufficientSubjectsCap {
			v.Confidence = e.policy.InsufficientSubjectsCap
		}
	}

	v.Confidence = clamp01(v.Confidence)
	return v
}

// MatchMovements returns the expected movements found in labels. A movement
// is found when any label contains it as a case-insensitive substring; the
// vision vocabulary ("Forward Bend") and the clinical one ("forward_bend")
// differ in separators, so underscores in the movement also match spaces.
func MatchMovements(expected, labels []string) []string {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}
	found := make([]string, 0, len(expected))
	for _, m := range expected {
		needle := strings.ToLower(m)
		spaced := strings.ReplaceAll(needle, "_", " ")
		for _, l := range lowered {
			if strings.Contains(l, needle) || strings.Contains(l, spaced) {
				found = append(found, m)
				break
			}
		}
	}
	return found
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
