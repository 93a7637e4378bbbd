package main

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/fpang/cme-video-review/internal/api"
	"github.com/fpang/cme-video-review/internal/blob"
	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/pipeline"
	"github.com/fpang/cme-video-review/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Print a session with its observed actions and summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{}
		if configFlag != "" {
			var err error
			if cfg, err = config.Load(configFlag); err != nil {
				return err
			}
		}
		if err := cfg.FromEnv(); err != nil {
			return err
		}
		if cfg.Storage.TableName == "" {
			return fmt.Errorf("storage.table_name is required (or %s)", config.EnvTable)
		}
		ctx := context.Background()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		db := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Storage.TableName)

		sess, err := db.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session %s not found", args[0])
		}
		actions, err := db.ListActions(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, api.SessionResponse{Session: sess, Actions: actions, Summary: api.Summarize(actions)})
	},
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence <s3-uri>",
	Short: "Decode a compressed evidence archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, key, err := blob.ParseS3URI(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		data, err := blob.NewS3Store(s3.NewFromConfig(awsCfg)).Get(ctx, bucket, key)
		if err != nil {
			return err
		}
		archive, err := pipeline.DecodeEvidence(data)
		if err != nil {
			return err
		}
		return printJSON(cmd, archive)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
