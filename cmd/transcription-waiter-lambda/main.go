// Package main provides the Lambda entry point that checks a session's
// Transcribe Medical job.
//
// The state machine's first state invokes it with {session_id,
// transcription_job_name}. While the job runs it fails with
// TranscriptionInProgress, which the state machine retries every 30 seconds
// for up to 40 attempts. A completed job advances the session to
// nlp_analysis; a failed job marks the session as errored.
//
// Container: Light
// Memory: 256 MB
// Timeout: 1 minute
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/lambdaboot"
	"github.com/fpang/cme-video-review/internal/logging"
	"github.com/fpang/cme-video-review/internal/transcribe"
)

// WaiterEvent is the state input.
type WaiterEvent struct {
	SessionID            string `json:"session_id"`
	TranscriptionJobName string `json:"transcription_job_name"`
}

var waiter *transcribe.Waiter

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, config.EnvBucket)
	sessions := lambdaboot.InitStore(clients.Config, config.EnvTable)
	waiter = transcribe.NewWaiter(lambdaboot.InitTranscribe(clients.Config, s3c.Store), sessions)

	lambdaboot.StartupLog("transcription-waiter-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("mediaBucket", s3c.Bucket).
		Log()
}

// handler returns *transcribe.TranscriptionInProgress unwrapped so the
// Lambda runtime reports its type name to the Retry matcher.
func handler(ctx context.Context, event WaiterEvent) (*transcribe.CheckResult, error) {
	if coldStart {
		log.Info().Str("function", "transcription-waiter-lambda").Msg("Cold start: first invocation")
		coldStart = false
	}
	return waiter.Check(ctx, event.SessionID, event.TranscriptionJobName)
}

func main() {
	lambda.Start(handler)
}
