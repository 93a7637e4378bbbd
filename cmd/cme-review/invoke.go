package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var functionFlag string

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke the deployed video processor once per declared test",
	RunE:  runInvoke,
}

func init() {
	invokeCmd.Flags().StringVarP(&manifestFlag, "manifest", "m", "", "Session manifest JSON")
	invokeCmd.Flags().StringVarP(&functionFlag, "function", "f", "cme-video-processor", "Video processor function name or ARN")
	_ = invokeCmd.MarkFlagRequired("manifest")
}

// LambdaInvoker is the subset of the Lambda client used by invokeAll.
type LambdaInvoker interface {
	Invoke(ctx context.Context, in *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

func runInvoke(cmd *cobra.Command, args []string) error {
	m, err := readManifest(manifestFlag)
	if err != nil {
		return err
	}
	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	payloads, err := invokeAll(ctx, awslambda.NewFromConfig(awsCfg), functionFlag, m)
	for _, p := range payloads {
		fmt.Fprintln(cmd.OutOrStdout(), string(p))
	}
	return err
}

// invokeAll calls the function synchronously for each test in order and
// returns the response payloads. It stops at the first failure.
func invokeAll(ctx context.Context, client LambdaInvoker, function string, m *Manifest) ([][]byte, error) {
	var payloads [][]byte
	for _, req := range m.Requests() {
		body, err := json.Marshal(req)
		if err != nil {
			return payloads, fmt.Errorf("marshal request: %w", err)
		}
		out, err := client.Invoke(ctx, &awslambda.InvokeInput{
			FunctionName: aws.String(function),
			Payload:      body,
		})
		if err != nil {
			return payloads, fmt.Errorf("invoke %s for step %s: %w", function, req.Test.DeclaredStepID, err)
		}
		if out.FunctionError != nil {
			return payloads, fmt.Errorf("step %s: %s: %s", req.Test.DeclaredStepID, aws.ToString(out.FunctionError), out.Payload)
		}
		log.Info().Str("declaredStepId", req.Test.DeclaredStepID).Int32("status", out.StatusCode).Msg("Video processor invoked")
		payloads = append(payloads, out.Payload)
	}
	return payloads, nil
}
