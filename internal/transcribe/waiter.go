package transcribe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/store"
)

// TranscriptionInProgress is returned by Waiter.Check while the job is still
// queued or running. The state machine retries on this error type.
type TranscriptionInProgress struct {
	JobName string
	Status  string
}

func (e *TranscriptionInProgress) Error() string {
	return fmt.Sprintf("transcription %s still %s", e.JobName, e.Status)
}

// CheckResult is the outcome of a check on a finished job.
type CheckResult struct {
	SessionID     string      `json:"session_id"`
	Status        string      `json:"status"`
	TranscriptURI string      `json:"transcript_uri,omitempty"`
	Transcript    *Transcript `json:"transcript_data,omitempty"`
	Error         string      `json:"error,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// Waiter checks a session's transcription job and records the outcome on
// the session.
type Waiter struct {
	svc      Service
	sessions store.ActionStore
}

// NewWaiter creates a Waiter.
func NewWaiter(svc Service, sessions store.ActionStore) *Waiter {
	return &Waiter{svc: svc, sessions: sessions}
}

// Check queries the job once. A running job yields *TranscriptionInProgress.
// A failed job marks the session as errored and returns a FAILED result
// without an error. A transcript that cannot be downloaded is logged and
// left out of the result; the session still advances.
func (w *Waiter) Check(ctx context.Context, sessionID, jobName string) (*CheckResult, error) {
	if sessionID == "" || jobName == "" {
		return nil, fmt.Errorf("session_id and transcription_job_name are required")
	}

	st, err := w.svc.GetJobStatus(ctx, jobName)
	if err != nil {
		return nil, err
	}
	log.Info().Str("sessionId", sessionID).Str("job", jobName).Str("status", st.RawStatus).Msg("Transcription job status")

	switch st.State {
	case StateRunning:
		return nil, &TranscriptionInProgress{JobName: jobName, Status: st.RawStatus}

	case StateCompleted:
		res := &CheckResult{SessionID: sessionID, Status: "COMPLETED", TranscriptURI: st.TranscriptURI}
		if st.TranscriptURI != "" {
			t, err := w.svc.FetchTranscript(ctx, st.TranscriptURI)
			if err != nil {
				log.Warn().Err(err).Str("uri", st.TranscriptURI).Msg("Transcript download failed")
			} else {
				res.Transcript = t
			}
		}
		if err := w.sessions.UpdateSession(ctx, sessionID, store.SessionUpdate{
			TranscriptURI:   st.TranscriptURI,
			ProcessingStage: store.StageNLPAnalysis,
		}); err != nil {
			return nil, fmt.Errorf("update session %s: %w", sessionID, err)
		}
		return res, nil

	case StateFailed:
		log.Error().Str("sessionId", sessionID).Str("job", jobName).Str("reason", st.FailureReason).Msg("Transcription failed")
		if err := w.sessions.UpdateSession(ctx, sessionID, store.SessionUpdate{
			Status:          store.StatusError,
			ProcessingStage: "transcription_failed: " + st.FailureReason,
		}); err != nil {
			return nil, fmt.Errorf("update session %s: %w", sessionID, err)
		}
		return &CheckResult{SessionID: sessionID, Status: "FAILED", Error: "Transcription failed", Message: st.FailureReason}, nil

	default:
		return nil, fmt.Errorf("unknown transcription status %q for job %s", st.RawStatus, jobName)
	}
}
