// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3,
// DynamoDB, the vision and transcription clients, an SSM policy override
// and startup logging. Each Lambda's init() is a short composition of these
// helpers. Helpers named Init* fatal on misconfiguration; Load* return
// errors so they can be tested.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/blob"
	"github.com/fpang/cme-video-review/internal/catalog"
	"github.com/fpang/cme-video-review/internal/events"
	"github.com/fpang/cme-video-review/internal/logging"
	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/transcribe"
	"github.com/fpang/cme-video-review/internal/vision"
)

// Environment variables shared by the Lambdas.
const (
	EnvPolicyParam = "SSM_POLICY_PARAM"
	EnvCatalogFile = "CME_CATALOG_FILE"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client, the blob store over it and the bucket name.
type S3Clients struct {
	Client *s3.Client
	Store  *blob.S3Store
	Bucket string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates the S3 client and blob store and reads the bucket name from
// the given environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client: client,
		Store:  blob.NewS3Store(client),
		Bucket: bucket,
	}
}

// InitStore creates the DynamoDB store from the table name environment
// variable. Fatals if the env var is empty.
func InitStore(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitVision creates the Rekognition-backed vision service.
func InitVision(cfg aws.Config, minLabelConfidence float64) *vision.RekognitionService {
	return vision.NewRekognitionService(rekognition.NewFromConfig(cfg), minLabelConfidence)
}

// InitTranscribe creates the Transcribe Medical service. Transcripts stored
// in S3 are read through blobs.
func InitTranscribe(cfg aws.Config, blobs blob.Store) *transcribe.AWSService {
	return transcribe.NewAWSService(awstranscribe.NewFromConfig(cfg), blobs)
}

// InitEvents creates an EventBridge emitter when busEnvVar is set.
// Returns nil (with a warning) if not configured.
func InitEvents(cfg aws.Config, busEnvVar string) *events.Emitter {
	bus := os.Getenv(busEnvVar)
	if bus == "" {
		log.Warn().Str("envVar", busEnvVar).Msg("Event bus not set, ObservedActionRecorded events disabled")
		return nil
	}
	return events.NewEmitter(eventbridge.NewFromConfig(cfg), bus)
}

// SSMAPI is the subset of the SSM client used to load parameters.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadPolicy reads a reconciliation policy override (YAML or JSON) from the
// SSM parameter named by SSM_POLICY_PARAM. Without the env var the default
// policy is returned.
func LoadPolicy(ctx context.Context, client SSMAPI) (reconcile.Policy, error) {
	paramName := os.Getenv(EnvPolicyParam)
	if paramName == "" {
		return reconcile.DefaultPolicy(), nil
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("read policy parameter %s: %w", paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return reconcile.Policy{}, fmt.Errorf("policy parameter %s has no value", paramName)
	}
	p, err := reconcile.ParsePolicy([]byte(*result.Parameter.Value))
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("policy parameter %s: %w", paramName, err)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Reconciliation policy loaded from SSM")
	return p, nil
}

// LoadCatalog reads the catalog override file named by CME_CATALOG_FILE,
// falling back to the built-in catalog.
func LoadCatalog() (*catalog.Catalog, error) {
	path := os.Getenv(EnvCatalogFile)
	if path == "" {
		return catalog.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return catalog.Load(data)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
