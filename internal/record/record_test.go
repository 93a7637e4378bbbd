package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/vision"
)

type memStore struct {
	actions []*store.ObservedAction
	err     error
}

func (m *memStore) PutAction(ctx context.Context, a *store.ObservedAction) error {
	if m.err != nil {
		return m.err
	}
	m.actions = append(m.actions, a)
	return nil
}

func (m *memStore) ListActions(ctx context.Context, sessionID string) ([]*store.ObservedAction, error) {
	return m.actions, nil
}

func (m *memStore) PutSession(ctx context.Context, s *store.Session) error { return nil }

func (m *memStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return nil, nil
}

func (m *memStore) UpdateSession(ctx context.Context, id string, u store.SessionUpdate) error {
	return nil
}

func newTestWriter(s store.ActionStore) *Writer {
	w := NewWriter(s)
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	w.newID = func() string { return "action-fixed" }
	return w
}

var gait = DeclaredTest{Timestamp: 125, Label: "gait", DeclaredStepID: "step-7"}

func TestPersist(t *testing.T) {
	s := &memStore{}
	w := newTestWriter(s)
	v := reconcile.Verdict{
		MotionPresent:    reconcile.MotionPerformed,
		PoseMatch:        reconcile.PoseFullMatch,
		Confidence:       0.8,
		Labels:           []string{"Walking"},
		PersonCount:      2,
		MatchedMovements: []string{"walking"},
	}
	ev := Evidence{
		SegmentKey: "cme-segments/s1/segment_125_60.mp4",
		MotionJob:  vision.AsyncJob{JobID: "m1", Status: vision.StatusCompleted},
		PoseJob:    vision.AsyncJob{JobID: "p1", Status: vision.StatusCompleted},
	}

	a, err := w.Persist(context.Background(), "s1", gait, v, ev)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(s.actions) != 1 || s.actions[0] != a {
		t.Fatalf("expected exactly one stored action")
	}
	if a.ObservedActionID != "action-fixed" || a.SessionID != "s1" || a.DeclaredStepID != "step-7" {
		t.Errorf("identity fields wrong: %+v", a)
	}
	if a.MotionPresent != "performed" || a.PoseMatch != "full_match" || a.ConfidenceScore != 0.8 {
		t.Errorf("verdict fields wrong: %+v", a)
	}
	d := a.AnalysisDetails
	if d.MotionJobID != "m1" || d.PoseJobID != "p1" || d.PersonCount != 2 || d.TestType != "gait" {
		t.Errorf("details wrong: %+v", d)
	}
	if a.CreatedAt != 1_700_000_000 {
		t.Errorf("created_at = %d", a.CreatedAt)
	}
}

func TestPersistFailure(t *testing.T) {
	s := &memStore{}
	w := newTestWriter(s)

	a, err := w.PersistFailure(context.Background(), "s1", gait, Evidence{}, "segment extraction failed: ffmpeg exit 1")
	if err != nil {
		t.Fatalf("PersistFailure: %v", err)
	}
	if a.MotionPresent != "not_observed" || a.PoseMatch != "no_match" || a.ConfidenceScore != 0 {
		t.Errorf("expected degenerate verdict, got %+v", a)
	}
	if a.AnalysisDetails.Error == "" {
		t.Error("expected error marker in analysis details")
	}
	if a.AnalysisDetails.MotionLabels == nil {
		t.Error("motion labels should be an empty list, not nil")
	}

	a, _ = w.PersistFailure(context.Background(), "s1", gait, Evidence{}, "")
	if a.AnalysisDetails.Error == "" {
		t.Error("empty reason should still leave a marker")
	}
}

func TestPersist_InvalidTest(t *testing.T) {
	s := &memStore{}
	w := newTestWriter(s)
	for _, dt := range []DeclaredTest{
		{Timestamp: 1, DeclaredStepID: "s"},
		{Timestamp: 1, Label: "gait"},
	} {
		_, err := w.Persist(context.Background(), "s1", dt, reconcile.Conservative(), Evidence{})
		if !errors.Is(err, ErrInvalidTest) {
			t.Errorf("expected ErrInvalidTest for %+v, got %v", dt, err)
		}
	}
	if len(s.actions) != 0 {
		t.Error("nothing should be written for invalid tests")
	}
}

func TestPersist_StoreError(t *testing.T) {
	w := newTestWriter(&memStore{err: errors.New("throttled")})
	if _, err := w.Persist(context.Background(), "s1", gait, reconcile.Conservative(), Evidence{}); err == nil {
		t.Error("expected store error to propagate")
	}
}
