// Command cme-review runs and inspects the video review pipeline from a
// workstation. It reads .env when present, then the optional --config YAML,
// then CME_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/logging"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "cme-review",
	Short: "Verify declared clinical exam tests against exam video",
	Long: `cme-review cuts each declared test out of an exam recording, runs motion
and pose analysis on the segment and records an ObservedAction verdict.

Examples:
  cme-review plan 125.5
  cme-review catalog
  cme-review process --manifest session.json
  cme-review invoke --function cme-video-processor --manifest session.json
  cme-review session 3f2a9c
  cme-review evidence s3://cme-media/cme-evidence/3f2a9c/step-4.json.zst`,
	Version:       fmt.Sprintf("%s (built %s)", commitHash, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read .env")
		}
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file (env vars override it)")
	rootCmd.AddCommand(planCmd, catalogCmd, processCmd, invokeCmd, sessionCmd, evidenceCmd)
}

// loadConfig builds the validated config for commands that touch AWS.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
