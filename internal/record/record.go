// Package record turns a reconciliation verdict into the durable
// ObservedAction for one declared test.
//
// Every declared test gets exactly one record, including tests whose
// segment could not be cut or whose vision jobs never finished. Those get
// the degenerate not_observed/no_match/0 verdict with an error marker in
// the evidence.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/jobs"
	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/vision"
)

// ErrInvalidTest marks a declared test that is missing a required field.
var ErrInvalidTest = errors.New("invalid declared test")

// DeclaredTest is one test the upstream NLP stage found in the transcript.
type DeclaredTest struct {
	Timestamp      float64 `json:"timestamp" yaml:"timestamp"`
	Label          string  `json:"label" yaml:"label"`
	DeclaredStepID string  `json:"declared_step_id" yaml:"declared_step_id"`
}

// Validate reports a contract error when label or step ID is missing.
func (d DeclaredTest) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidTest)
	}
	if d.DeclaredStepID == "" {
		return fmt.Errorf("%w: declared_step_id is required", ErrInvalidTest)
	}
	return nil
}

// Evidence is what the pipeline gathered while analysing one test.
// Jobs left at their zero value were never submitted.
type Evidence struct {
	SegmentKey  string
	MotionJob   vision.AsyncJob
	PoseJob     vision.AsyncJob
	FrameKey    string
	EvidenceKey string
	Error       string
}

// Writer persists observed actions.
type Writer struct {
	store store.ActionStore
	now   func() time.Time
	newID func() string
}

// NewWriter returns a Writer backed by s.
func NewWriter(s store.ActionStore) *Writer {
	return &Writer{
		store: s,
		now:   time.Now,
		newID: func() string { return jobs.GenerateID(jobs.ActionPrefix) },
	}
}

// Persist writes the verdict for test under a fresh ID.
func (w *Writer) Persist(ctx context.Context, sessionID string, test DeclaredTest, v reconcile.Verdict, ev Evidence) (*store.ObservedAction, error) {
	if err := test.Validate(); err != nil {
		return nil, err
	}
	action := &store.ObservedAction{
		ObservedActionID: w.newID(),
		SessionID:        sessionID,
		DeclaredStepID:   test.DeclaredStepID,
		TestType:         test.Label,
		MotionPresent:    string(v.MotionPresent),
		PoseMatch:        string(v.PoseMatch),
		ConfidenceScore:  v.Confidence,
		AnalysisDetails: store.AnalysisDetails{
			SegmentKey:       ev.SegmentKey,
			TestType:         test.Label,
			MotionJobID:      ev.MotionJob.JobID,
			PoseJobID:        ev.PoseJob.JobID,
			MotionJobStatus:  string(ev.MotionJob.Status),
			PoseJobStatus:    string(ev.PoseJob.Status),
			MotionLabels:     nonNil(v.Labels),
			MatchedMovements: v.MatchedMovements,
			PersonCount:      v.PersonCount,
			FrameKey:         ev.FrameKey,
			EvidenceKey:      ev.EvidenceKey,
			Error:            ev.Error,
		},
		CreatedAt: w.now().Unix(),
	}

	if err := w.store.PutAction(ctx, action); err != nil {
		return nil, fmt.Errorf("persist observed action for step %s: %w", test.DeclaredStepID, err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("declaredStepId", test.DeclaredStepID).
		Str("testType", test.Label).
		Str("motionPresent", action.MotionPresent).
		Str("poseMatch", action.PoseMatch).
		Float64("confidence", action.ConfidenceScore).
		Str("observedActionId", action.ObservedActionID).
		Msg("Observed action recorded")
	return action, nil
}

// PersistFailure writes the degenerate verdict with reason as the error
// marker.
func (w *Writer) PersistFailure(ctx context.Context, sessionID string, test DeclaredTest, ev Evidence, reason string) (*store.ObservedAction, error) {
	if reason == "" {
		reason = "analysis failed"
	}
	ev.Error = reason
	return w.Persist(ctx, sessionID, test, reconcile.Conservative(), ev)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
