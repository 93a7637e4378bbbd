package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStartupLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = old }()

	NewStartupLogger("video-processor-lambda").
		S3Bucket("media", "cme-media").
		DynamoTable("sessions", "cme-sessions").
		EventBus("events", "cme-bus").
		StateMachine("processing", "").
		Feature("frameSnapshots", true).
		Config("maxWait", "10m0s").
		InitDuration(120 * time.Millisecond).
		Log()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("startup event is not JSON: %v", err)
	}
	lambda := doc["lambda"].(map[string]any)
	if lambda["name"] != "video-processor-lambda" {
		t.Errorf("name = %v", lambda["name"])
	}
	res := doc["resources"].(map[string]any)
	if res["s3Buckets"].(map[string]any)["media"] != "cme-media" {
		t.Errorf("missing bucket: %v", res)
	}
	if res["eventBuses"].(map[string]any)["events"] != "cme-bus" {
		t.Errorf("missing bus: %v", res)
	}
	if _, ok := res["stateMachines"]; ok {
		t.Error("resources with empty names should be omitted")
	}
	if doc["features"].(map[string]any)["frameSnapshots"] != true {
		t.Error("missing feature flag")
	}
	if doc["config"].(map[string]any)["maxWait"] != "10m0s" {
		t.Errorf("missing config: %v", doc["config"])
	}
}
