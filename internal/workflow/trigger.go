// Package workflow starts the processing state machine when a session's
// transcription job completes.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/jobs"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/transcribe"
)

// ErrIgnored is returned for events that do not concern a review session.
// The Lambda treats it as success.
var ErrIgnored = errors.New("event ignored")

// TranscribeStateChange is the detail of an aws.transcribe
// "Transcribe Job State Change" event.
type TranscribeStateChange struct {
	TranscriptionJobName   string `json:"TranscriptionJobName"`
	TranscriptionJobStatus string `json:"TranscriptionJobStatus"`
	FailureReason          string `json:"FailureReason,omitempty"`
}

// ExecutionInput is the state machine input.
type ExecutionInput struct {
	SessionID            string `json:"session_id"`
	TranscriptionJobName string `json:"transcription_job_name"`
	VideoKey             string `json:"video_s3_key"`
}

// SFNAPI is the subset of the Step Functions client used by Trigger.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// SessionStore is the part of the store the trigger needs.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	UpdateSession(ctx context.Context, sessionID string, update store.SessionUpdate) error
}

// Trigger maps transcription events to state machine executions.
type Trigger struct {
	sfn             SFNAPI
	sessions        SessionStore
	stateMachineArn string
	executionName   func(sessionID, jobName string) string
}

// NewTrigger creates a Trigger for the given state machine.
func NewTrigger(client SFNAPI, sessions SessionStore, stateMachineArn string) *Trigger {
	return &Trigger{
		sfn:             client,
		sessions:        sessions,
		stateMachineArn: stateMachineArn,
		executionName:   jobs.ExecutionName,
	}
}

// Handle starts one execution for a COMPLETED job that belongs to a known
// session and returns its ARN. Other events yield ErrIgnored. A redelivered
// event whose execution already exists is also ignored.
func (t *Trigger) Handle(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	var detail TranscribeStateChange
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		return "", fmt.Errorf("decode transcribe event detail: %w", err)
	}
	if detail.TranscriptionJobStatus != "COMPLETED" {
		return "", fmt.Errorf("%w: status %s", ErrIgnored, detail.TranscriptionJobStatus)
	}
	sessionID, ok := transcribe.SessionFromJobName(detail.TranscriptionJobName)
	if !ok {
		return "", fmt.Errorf("%w: job %s is not a review job", ErrIgnored, detail.TranscriptionJobName)
	}

	sess, err := t.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("%w: session %s not found", ErrIgnored, sessionID)
	}
	if sess.VideoKey == "" {
		return "", fmt.Errorf("session %s has no video key", sessionID)
	}

	input, err := json.Marshal(ExecutionInput{
		SessionID:            sessionID,
		TranscriptionJobName: detail.TranscriptionJobName,
		VideoKey:             sess.VideoKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal execution input: %w", err)
	}

	out, err := t.sfn.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(t.stateMachineArn),
		Input:           aws.String(string(input)),
		Name:            aws.String(t.executionName(sessionID, detail.TranscriptionJobName)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return "", fmt.Errorf("%w: execution already started", ErrIgnored)
		}
		return "", fmt.Errorf("StartExecution for session %s: %w", sessionID, err)
	}

	if err := t.sessions.UpdateSession(ctx, sessionID, store.SessionUpdate{
		Status:          store.StatusProcessing,
		ProcessingStage: store.StageVideoAnalysis,
	}); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to mark session as processing")
	}

	arn := aws.ToString(out.ExecutionArn)
	log.Info().
		Str("sessionId", sessionID).
		Str("job", detail.TranscriptionJobName).
		Str("executionArn", arn).
		Msg("Processing pipeline started via Step Functions")
	return arn, nil
}
