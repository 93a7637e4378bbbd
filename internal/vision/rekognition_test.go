package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rktypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

type fakeRekognition struct {
	labelStartIn  *rekognition.StartLabelDetectionInput
	labelPages    []*rekognition.GetLabelDetectionOutput
	personPages   []*rekognition.GetPersonTrackingOutput
	labelCalls    int
	personCalls   int
	trackingError error
}

func (f *fakeRekognition) StartLabelDetection(ctx context.Context, in *rekognition.StartLabelDetectionInput, _ ...func(*rekognition.Options)) (*rekognition.StartLabelDetectionOutput, error) {
	f.labelStartIn = in
	return &rekognition.StartLabelDetectionOutput{JobId: aws.String("label-123")}, nil
}

func (f *fakeRekognition) StartPersonTracking(ctx context.Context, in *rekognition.StartPersonTrackingInput, _ ...func(*rekognition.Options)) (*rekognition.StartPersonTrackingOutput, error) {
	if f.trackingError != nil {
		return nil, f.trackingError
	}
	return &rekognition.StartPersonTrackingOutput{JobId: aws.String("person-456")}, nil
}

func (f *fakeRekognition) GetLabelDetection(ctx context.Context, in *rekognition.GetLabelDetectionInput, _ ...func(*rekognition.Options)) (*rekognition.GetLabelDetectionOutput, error) {
	out := f.labelPages[f.labelCalls]
	f.labelCalls++
	return out, nil
}

func (f *fakeRekognition) GetPersonTracking(ctx context.Context, in *rekognition.GetPersonTrackingInput, _ ...func(*rekognition.Options)) (*rekognition.GetPersonTrackingOutput, error) {
	out := f.personPages[f.personCalls]
	f.personCalls++
	return out, nil
}

func label(name string, conf float32) rktypes.LabelDetection {
	return rktypes.LabelDetection{Label: &rktypes.Label{Name: aws.String(name), Confidence: aws.Float32(conf)}}
}

func TestRekognition_Submit(t *testing.T) {
	fake := &fakeRekognition{}
	svc := NewRekognitionService(fake, 0)

	id, err := svc.Submit(context.Background(), KindMotion, "bucket", "seg.mp4")
	if err != nil || id != "label-123" {
		t.Fatalf("Submit motion: id=%q err=%v", id, err)
	}
	if aws.ToFloat32(fake.labelStartIn.MinConfidence) != 60 {
		t.Errorf("MinConfidence = %v, want 60", aws.ToFloat32(fake.labelStartIn.MinConfidence))
	}
	if aws.ToString(fake.labelStartIn.Video.S3Object.Name) != "seg.mp4" {
		t.Errorf("unexpected video object: %+v", fake.labelStartIn.Video.S3Object)
	}

	fake.trackingError = errors.New("AccessDenied")
	if _, err := svc.Submit(context.Background(), KindPose, "bucket", "seg.mp4"); err == nil {
		t.Error("expected StartPersonTracking error")
	}
}

func TestRekognition_PollLabels_Paginates(t *testing.T) {
	fake := &fakeRekognition{labelPages: []*rekognition.GetLabelDetectionOutput{
		{JobStatus: rktypes.VideoJobStatusSucceeded, Labels: []rktypes.LabelDetection{label("Walking", 90)}, NextToken: aws.String("p2")},
		{JobStatus: rktypes.VideoJobStatusSucceeded, Labels: []rktypes.LabelDetection{label("Standing", 75), {}}},
	}}
	svc := NewRekognitionService(fake, 60)

	res, err := svc.Poll(context.Background(), "label-123", KindMotion)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != RemoteSucceeded || res.Result == nil || len(res.Result.Labels) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if fake.labelCalls != 2 {
		t.Errorf("expected 2 GetLabelDetection calls, got %d", fake.labelCalls)
	}
}

func TestRekognition_PollPersons(t *testing.T) {
	fake := &fakeRekognition{personPages: []*rekognition.GetPersonTrackingOutput{
		{JobStatus: rktypes.VideoJobStatusSucceeded, Persons: []rktypes.PersonDetection{
			{Person: &rktypes.PersonDetail{Index: 0}},
			{Person: &rktypes.PersonDetail{Index: 1}},
			{},
		}},
	}}
	svc := NewRekognitionService(fake, 60)

	res, err := svc.Poll(context.Background(), "person-456", KindPose)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := CountDistinctSubjects(res.Result); got != 2 {
		t.Errorf("distinct subjects = %d, want 2", got)
	}
}

func TestRekognition_PollStatusMapping(t *testing.T) {
	tests := []struct {
		status rktypes.VideoJobStatus
		want   RemoteStatus
	}{
		{rktypes.VideoJobStatusInProgress, RemoteRunning},
		{rktypes.VideoJobStatusFailed, RemoteFailed},
		{rktypes.VideoJobStatus("SOMETHING_NEW"), RemoteRunning},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			fake := &fakeRekognition{labelPages: []*rekognition.GetLabelDetectionOutput{
				{JobStatus: tt.status, StatusMessage: aws.String("reason")},
			}}
			res, err := NewRekognitionService(fake, 60).Poll(context.Background(), "j", KindMotion)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.want || res.Result != nil {
				t.Errorf("got %+v, want status %v with no result", res, tt.want)
			}
		})
	}
}
