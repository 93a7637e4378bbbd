// Package events publishes pipeline outcomes to Amazon EventBridge so that
// downstream consumers (report generation, audit) can react to new verdicts.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/store"
)

const (
	Source                     = "cme-video-review"
	DetailObservedActionRecord = "ObservedActionRecorded"
)

// EventBridgeAPI is the subset of the EventBridge client used by Emitter.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// ObservedActionRecorded is the event detail.
type ObservedActionRecorded struct {
	SessionID        string  `json:"session_id"`
	ObservedActionID string  `json:"observed_action_id"`
	DeclaredStepID   string  `json:"declared_step_id"`
	TestType         string  `json:"test_type"`
	MotionPresent    string  `json:"motion_present"`
	PoseMatch        string  `json:"pose_match"`
	ConfidenceScore  float64 `json:"confidence_score"`
	Error            string  `json:"error,omitempty"`
}

// Emitter puts events on a bus. An empty bus name means the default bus.
type Emitter struct {
	client  EventBridgeAPI
	busName string
}

// NewEmitter creates an Emitter.
func NewEmitter(client EventBridgeAPI, busName string) *Emitter {
	return &Emitter{client: client, busName: busName}
}

// ObservedActionRecorded announces a persisted verdict.
func (e *Emitter) ObservedActionRecorded(ctx context.Context, a *store.ObservedAction) error {
	detail, err := json.Marshal(ObservedActionRecorded{
		SessionID:        a.SessionID,
		ObservedActionID: a.ObservedActionID,
		DeclaredStepID:   a.DeclaredStepID,
		TestType:         a.TestType,
		MotionPresent:    a.MotionPresent,
		PoseMatch:        a.PoseMatch,
		ConfidenceScore:  a.ConfidenceScore,
		Error:            a.AnalysisDetails.Error,
	})
	if err != nil {
		return fmt.Errorf("marshal ObservedActionRecorded: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailObservedActionRecord),
		Detail:     aws.String(string(detail)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", a.SessionID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, r := range result.Entries {
			if r.ErrorCode != nil || r.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(r.ErrorCode)).
					Str("errorMessage", aws.ToString(r.ErrorMessage)).
					Str("sessionId", a.SessionID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(r.ErrorCode), aws.ToString(r.ErrorMessage))
			}
		}
	}

	log.Debug().Str("sessionId", a.SessionID).Str("observedActionId", a.ObservedActionID).Msg("ObservedActionRecorded emitted to EventBridge")
	return nil
}
