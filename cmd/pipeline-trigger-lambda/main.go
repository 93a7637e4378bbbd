// Package main provides the Lambda entry point that starts the processing
// state machine.
//
// An EventBridge rule on aws.transcribe "Transcribe Job State Change"
// events with TranscriptionJobStatus COMPLETED targets this Lambda. Jobs
// named cme-<session_id> start one execution per session; everything else
// is acknowledged and dropped.
//
// Container: Light
// Memory: 128 MB
// Timeout: 30 seconds
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/lambdaboot"
	"github.com/fpang/cme-video-review/internal/logging"
	"github.com/fpang/cme-video-review/internal/workflow"
)

var trigger *workflow.Trigger

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	sessions := lambdaboot.InitStore(clients.Config, config.EnvTable)

	stateMachineArn := os.Getenv("STATE_MACHINE_ARN")
	if stateMachineArn == "" {
		log.Fatal().Msg("STATE_MACHINE_ARN environment variable is required")
	}
	trigger = workflow.NewTrigger(sfn.NewFromConfig(clients.Config), sessions, stateMachineArn)

	lambdaboot.StartupLog("pipeline-trigger-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("sessions", os.Getenv(config.EnvTable)).
		StateMachine("processing", stateMachineArn).
		Log()
}

// TriggerResult is returned to EventBridge for logging only.
type TriggerResult struct {
	ExecutionArn string `json:"executionArn,omitempty"`
	Skipped      string `json:"skipped,omitempty"`
}

func handler(ctx context.Context, event events.CloudWatchEvent) (*TriggerResult, error) {
	if coldStart {
		log.Info().Str("function", "pipeline-trigger-lambda").Msg("Cold start: first invocation")
		coldStart = false
	}

	arn, err := trigger.Handle(ctx, event)
	if errors.Is(err, workflow.ErrIgnored) {
		log.Info().Err(err).Str("eventId", event.ID).Msg("Event skipped")
		return &TriggerResult{Skipped: err.Error()}, nil
	}
	if err != nil {
		log.Error().Err(err).Str("eventId", event.ID).Msg("Failed to start processing pipeline")
		return nil, err
	}
	return &TriggerResult{ExecutionArn: arn}, nil
}

func main() {
	lambda.Start(handler)
}
