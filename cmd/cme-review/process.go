package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cme-video-review/internal/blob"
	"github.com/fpang/cme-video-review/internal/catalog"
	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/pipeline"
	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/segment"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/vision"
)

var manifestFlag string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Review every declared test of a manifest on this machine",
	Long: `process runs the per-test pipeline locally against S3, Rekognition and
DynamoDB, up to pipeline.concurrency tests at a time. ffmpeg must be on PATH
or set with FFMPEG_PATH. One result line is printed per test, in manifest
order.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&manifestFlag, "manifest", "m", "", "Session manifest JSON")
	_ = processCmd.MarkFlagRequired("manifest")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.TableName == "" {
		return fmt.Errorf("storage.table_name is required (or %s)", config.EnvTable)
	}
	m, err := readManifest(manifestFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	policy := reconcile.DefaultPolicy()
	if cfg.Pipeline.PolicyFile != "" {
		data, err := os.ReadFile(cfg.Pipeline.PolicyFile)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		if policy, err = reconcile.ParsePolicy(data); err != nil {
			return err
		}
	}
	cat := catalog.Default()
	if cfg.Pipeline.CatalogFile != "" {
		if cat, err = loadCatalogFile(cfg.Pipeline.CatalogFile); err != nil {
			return err
		}
	}

	blobs := blob.NewS3Store(s3.NewFromConfig(awsCfg))
	extractor := segment.NewExtractor(blobs, segment.ExecRunner, cfg.Segment.FFmpegPath)
	deps := pipeline.Deps{
		Segments: extractor,
		Vision:   vision.NewRekognitionService(rekognition.NewFromConfig(awsCfg), policy.MinLabelConfidence),
		Store:    store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Storage.TableName),
		Blobs:    blobs,
		Catalog:  cat,
		Engine:   reconcile.New(policy),
		Metrics:  cmd.ErrOrStderr(),
	}
	if cfg.Segment.FrameSnapshots {
		deps.Frames = segment.NewSnapshotter(extractor, cfg.Segment.SnapshotMaxDim)
	}
	orch, err := pipeline.New(deps, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	log.Info().
		Str("sessionId", m.SessionID).
		Int("tests", len(m.DeclaredTests)).
		Int("concurrency", cfg.Pipeline.Concurrency).
		Msg("Processing session")

	outcomes := orch.RunAll(ctx, m.Requests(), cfg.Pipeline.Concurrency)
	failed := 0
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error().Err(o.Err).Str("declaredStepId", o.Request.Test.DeclaredStepID).Msg("Test not recorded")
			continue
		}
		if err := enc.Encode(o.Result); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tests were not recorded", failed, len(outcomes))
	}
	return nil
}

func loadCatalogFile(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return catalog.Load(data)
}
