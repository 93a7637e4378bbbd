// Package jobutil provides shared helpers for the Lambda job lifecycle.
package jobutil

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/store"
)

// SessionUpdater is the part of the store used to record a failure.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, sessionID string, update store.SessionUpdate) error
}

// WriteTimeout bounds a write made on a Detached context.
const WriteTimeout = 10 * time.Second

// Detached returns a context that keeps ctx's values but not its deadline or
// cancellation, bounded by timeout instead. Final bookkeeping writes use it
// so they still land after the invocation's own context has expired.
func Detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = WriteTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// SetSessionError logs the failure and marks the session as errored with
// "<stage>_failed: <msg>" as its processing stage. The update runs on a
// Detached context, so it is recorded even when ctx is already done.
func SetSessionError(ctx context.Context, sessions SessionUpdater, sessionID, stage, msg string) error {
	log.Error().
		Str("sessionId", sessionID).
		Str("stage", stage).
		Str("error", msg).
		Msg("Session processing failed")
	if sessions == nil {
		return nil
	}
	wctx, cancel := Detached(ctx, WriteTimeout)
	defer cancel()
	err := sessions.UpdateSession(wctx, sessionID, store.SessionUpdate{
		Status:          store.StatusError,
		ProcessingStage: fmt.Sprintf("%s_failed: %s", stage, msg),
	})
	if err != nil {
		return fmt.Errorf("record session error: %w", err)
	}
	return nil
}
