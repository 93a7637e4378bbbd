package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/fpang/cme-video-review/internal/pipeline"
)

const sampleManifest = `{
  "session_id": "3f2a",
  "video_s3_key": "cme-recordings/3f2a.mp4",
  "declared_tests": [
    {"timestamp": 125.5, "label": "gait", "declared_step_id": "step-1"},
    {"timestamp": 410, "label": "straight_leg_raise", "declared_step_id": "step-2"}
  ]
}`

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	reqs := m.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[1].SessionID != "3f2a" || reqs[1].VideoKey != "cme-recordings/3f2a.mp4" || reqs[1].Test.DeclaredStepID != "step-2" {
		t.Errorf("unexpected request %+v", reqs[1])
	}

	bad := []string{
		`not json`,
		`{"video_s3_key": "v.mp4", "declared_tests": [{"label": "gait"}]}`,
		`{"session_id": "s", "video_s3_key": "v.mp4", "declared_tests": []}`,
	}
	for _, b := range bad {
		if _, err := parseManifest([]byte(b)); err == nil {
			t.Errorf("expected error for %s", b)
		}
	}
}

type fakeInvoker struct {
	calls   []pipeline.Request
	failAt  int
	funcErr bool
}

func (f *fakeInvoker) Invoke(ctx context.Context, in *awslambda.InvokeInput, _ ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	var req pipeline.Request
	if err := json.Unmarshal(in.Payload, &req); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, req)
	if len(f.calls) == f.failAt {
		if f.funcErr {
			return &awslambda.InvokeOutput{StatusCode: 200, FunctionError: aws.String("Unhandled"), Payload: []byte(`{"errorMessage":"boom"}`)}, nil
		}
		return nil, errors.New("TooManyRequestsException")
	}
	return &awslambda.InvokeOutput{StatusCode: 200, Payload: []byte(`{"declared_step_id":"` + req.Test.DeclaredStepID + `"}`)}, nil
}

func TestInvokeAll(t *testing.T) {
	m, _ := parseManifest([]byte(sampleManifest))

	f := &fakeInvoker{}
	payloads, err := invokeAll(context.Background(), f, "cme-video-processor", m)
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 2 || !bytes.Contains(payloads[1], []byte("step-2")) {
		t.Errorf("unexpected payloads %q", payloads)
	}
	if f.calls[0].Test.Label != "gait" {
		t.Errorf("requests should go out in manifest order, got %+v", f.calls)
	}

	f = &fakeInvoker{failAt: 1, funcErr: true}
	payloads, err = invokeAll(context.Background(), f, "cme-video-processor", m)
	if err == nil || !strings.Contains(err.Error(), "step-1") || len(payloads) != 0 {
		t.Errorf("function error should stop the run, got %v, %q", err, payloads)
	}

	f = &fakeInvoker{failAt: 2}
	payloads, err = invokeAll(context.Background(), f, "cme-video-processor", m)
	if err == nil || len(payloads) != 1 {
		t.Errorf("expected partial payloads and an error, got %v, %d", err, len(payloads))
	}
}

func TestPlanCommand(t *testing.T) {
	var out bytes.Buffer
	planCmd.SetOut(&out)
	planSession = "3f2a"
	defer func() { planSession = "" }()
	planPad, planDuration = 30, 60
	if err := planCmd.RunE(planCmd, []string{"10"}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "start:    0.000s") || !strings.Contains(got, "segment:  cme-segments/3f2a/segment_10_60.mp4") {
		t.Errorf("unexpected plan output:\n%s", got)
	}
	if err := planCmd.RunE(planCmd, []string{"abc"}); err == nil {
		t.Error("expected error for non-numeric timestamp")
	}
}
