// Package store provides durable storage for CME review sessions and the
// observed-action verdicts produced for each declared test.
//
// The package uses a single-table DynamoDB design where all records for a
// session share a partition key (SESSION#{sessionId}). Sort keys distinguish
// record types: META for the session itself and ACTION#{observedActionId} for
// each verdict. A TTL attribute (expiresAt) expires records after the
// retention window.
//
// Observed actions are append-only: each is written exactly once under a
// fresh ID and never updated. Corrections are new records.
package store

import (
	"context"
	"errors"
	"time"
)

// RetentionTTL is how long session and action records are kept.
const RetentionTTL = 90 * 24 * time.Hour

// ErrSessionNotFound is returned by UpdateSession when no META record exists.
var ErrSessionNotFound = errors.New("session not found")

// Session status values.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Processing stages written by the pipeline.
const (
	StageTranscription = "transcription"
	StageNLPAnalysis   = "nlp_analysis"
	StageVideoAnalysis = "video_analysis"
)

// ActionStore is the persistence interface the pipeline and API depend on.
// Each method is safe for concurrent use.
//
// Get methods return (nil, nil) when the record does not exist.
type ActionStore interface {
	// PutAction writes a verdict once. Writing the same ObservedActionID
	// again is a no-op.
	PutAction(ctx context.Context, action *ObservedAction) error

	// ListActions returns every verdict recorded for a session.
	ListActions(ctx context.Context, sessionID string) ([]*ObservedAction, error)

	// PutSession creates or replaces session metadata.
	PutSession(ctx context.Context, session *Session) error

	// GetSession retrieves session metadata. Returns nil, nil if not found.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSession sets the non-empty fields of update without touching
	// the rest of the record. It never creates a session; a missing one
	// yields ErrSessionNotFound.
	UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error
}

// Session is the metadata record for one recorded examination (SK = META).
type Session struct {
	SessionID            string `json:"session_id" dynamodbav:"-"`
	Status               string `json:"status" dynamodbav:"status"`
	ProcessingStage      string `json:"processing_stage,omitempty" dynamodbav:"processing_stage,omitempty"`
	VideoKey             string `json:"video_s3_key,omitempty" dynamodbav:"video_s3_key,omitempty"`
	TranscriptionJobName string `json:"transcription_job_name,omitempty" dynamodbav:"transcription_job_name,omitempty"`
	TranscriptURI        string `json:"transcript_uri,omitempty" dynamodbav:"transcript_uri,omitempty"`
	CreatedAt            int64  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt            int64  `json:"updated_at,omitempty" dynamodbav:"updated_at,omitempty"`
}

// SessionUpdate lists the session fields to change. Empty fields are left
// as they are; updated_at is always refreshed.
type SessionUpdate struct {
	Status          string
	ProcessingStage string
	TranscriptURI   string
}

// ObservedAction is the persisted verdict for one declared test
// (SK = ACTION#{observedActionId}).
type ObservedAction struct {
	ObservedActionID string          `json:"observed_action_id" dynamodbav:"observed_action_id"`
	SessionID        string          `json:"session_id" dynamodbav:"-"`
	DeclaredStepID   string          `json:"declared_step_id" dynamodbav:"declared_step_id"`
	TestType         string          `json:"test_type" dynamodbav:"test_type"`
	MotionPresent    string          `json:"motion_present" dynamodbav:"motion_present"`
	PoseMatch        string          `json:"pose_match" dynamodbav:"pose_match"`
	ConfidenceScore  float64         `json:"confidence_score" dynamodbav:"confidence_score"`
	AnalysisDetails  AnalysisDetails `json:"analysis_details" dynamodbav:"analysis_details"`
	CreatedAt        int64           `json:"created_at" dynamodbav:"created_at"`
}

// AnalysisDetails is the evidence bag kept with every verdict for audit and
// report generation. Error is set whenever the verdict is a fallback.
type AnalysisDetails struct {
	SegmentKey       string   `json:"segment_key,omitempty" dynamodbav:"segment_key,omitempty"`
	TestType         string   `json:"test_type,omitempty" dynamodbav:"test_type,omitempty"`
	MotionJobID      string   `json:"motion_job_id,omitempty" dynamodbav:"motion_job_id,omitempty"`
	PoseJobID        string   `json:"pose_job_id,omitempty" dynamodbav:"pose_job_id,omitempty"`
	MotionJobStatus  string   `json:"motion_job_status,omitempty" dynamodbav:"motion_job_status,omitempty"`
	PoseJobStatus    string   `json:"pose_job_status,omitempty" dynamodbav:"pose_job_status,omitempty"`
	MotionLabels     []string `json:"motion_labels" dynamodbav:"motion_labels"`
	MatchedMovements []string `json:"matched_movements,omitempty" dynamodbav:"matched_movements,omitempty"`
	PersonCount      int      `json:"person_count" dynamodbav:"person_count"`
	FrameKey         string   `json:"frame_key,omitempty" dynamodbav:"frame_key,omitempty"`
	EvidenceKey      string   `json:"evidence_key,omitempty" dynamodbav:"evidence_key,omitempty"`
	Error            string   `json:"error,omitempty" dynamodbav:"error,omitempty"`
}
