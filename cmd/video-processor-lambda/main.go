// Package main provides the Lambda entry point that reviews one declared
// clinical test.
//
// The Step Functions Map state invokes it once per declared test with
// {session_id, video_s3_key, declared_test}. It cuts the test's window out
// of the recording, runs motion and pose analysis, reconciles them against
// the test catalog and persists exactly one ObservedAction.
//
// Container: Heavy (includes ffmpeg)
// Memory: 1024 MB
// Timeout: 15 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/jobutil"
	"github.com/fpang/cme-video-review/internal/lambdaboot"
	"github.com/fpang/cme-video-review/internal/logging"
	"github.com/fpang/cme-video-review/internal/pipeline"
	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/segment"
	"github.com/fpang/cme-video-review/internal/store"
)

var (
	orchestrator *pipeline.Orchestrator
	sessions     *store.DynamoStore
)

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, config.EnvBucket)
	sessions = lambdaboot.InitStore(clients.Config, config.EnvTable)

	cfg := &config.Config{}
	if err := cfg.FromEnv(); err != nil {
		log.Fatal().Err(err).Msg("Invalid environment configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	policy, err := lambdaboot.LoadPolicy(context.Background(), clients.SSM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load reconciliation policy")
	}
	cat, err := lambdaboot.LoadCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load test catalog")
	}

	extractor := segment.NewExtractor(s3c.Store, segment.ExecRunner, cfg.Segment.FFmpegPath)
	deps := pipeline.Deps{
		Segments: extractor,
		Vision:   lambdaboot.InitVision(clients.Config, policy.MinLabelConfidence),
		Store:    sessions,
		Blobs:    s3c.Store,
		Catalog:  cat,
		Engine:   reconcile.New(policy),
	}
	if cfg.Segment.FrameSnapshots {
		deps.Frames = segment.NewSnapshotter(extractor, cfg.Segment.SnapshotMaxDim)
	}
	// A nil *Emitter must not become a non-nil interface.
	if emitter := lambdaboot.InitEvents(clients.Config, config.EnvEventBus); emitter != nil {
		deps.Events = emitter
	}

	orchestrator, err = pipeline.New(deps, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	lambdaboot.StartupLog("video-processor-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("mediaBucket", s3c.Bucket).
		DynamoTable("sessions", cfg.Storage.TableName).
		EventBus("events", cfg.Pipeline.EventBus).
		SSMParam("policy", os.Getenv(lambdaboot.EnvPolicyParam)).
		Feature("frameSnapshots", cfg.Segment.FrameSnapshots).
		Config("pollInterval", cfg.Vision.PollInterval.String()).
		Config("maxWait", cfg.Vision.MaxWait.String()).
		Log()
}

func handler(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if coldStart {
		log.Info().Str("function", "video-processor-lambda").Msg("Cold start: first invocation")
		coldStart = false
	}

	log.Info().
		Str("sessionId", req.SessionID).
		Str("declaredStepId", req.Test.DeclaredStepID).
		Str("label", req.Test.Label).
		Float64("timestamp", req.Test.Timestamp).
		Msg("Reviewing declared test")

	res, err := orchestrator.Process(ctx, req)
	if err != nil {
		jobutil.SetSessionError(ctx, sessions, req.SessionID, store.StageVideoAnalysis, err.Error())
		return nil, err
	}
	return res, nil
}

func main() {
	lambda.Start(handler)
}
