package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"github.com/fpang/cme-video-review/internal/store"
)

const sampleTranscript = `{
  "jobName": "cme-job-1",
  "accountId": "123456789012",
  "status": "COMPLETED",
  "results": {
    "transcripts": [{"transcript": "Now bend forward for me."}],
    "items": [
      {"start_time": "12.5", "end_time": "12.8", "type": "pronunciation", "alternatives": [{"confidence": "0.99", "content": "Now"}]},
      {"type": "punctuation", "alternatives": [{"confidence": "0.0", "content": "."}]}
    ]
  }
}`

type fakeTranscribe struct {
	job *types.MedicalTranscriptionJob
	err error
}

func (f *fakeTranscribe) GetMedicalTranscriptionJob(ctx context.Context, in *awstranscribe.GetMedicalTranscriptionJobInput, _ ...func(*awstranscribe.Options)) (*awstranscribe.GetMedicalTranscriptionJobOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &awstranscribe.GetMedicalTranscriptionJobOutput{MedicalTranscriptionJob: f.job}, nil
}

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	d, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return d, nil
}

func (f *fakeBlobs) Put(ctx context.Context, bucket, key string, data []byte, ct string) (string, error) {
	f.objects[bucket+"/"+key] = data
	return key, nil
}

func TestParseTranscript(t *testing.T) {
	tr, err := ParseTranscript([]byte(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}
	if tr.JobName != "cme-job-1" || tr.Text() != "Now bend forward for me." {
		t.Errorf("unexpected transcript: %+v", tr)
	}
	if s, ok := tr.Results.Items[0].Start(); !ok || s != 12.5 {
		t.Errorf("Start() = %v, %v", s, ok)
	}
	if _, ok := tr.Results.Items[1].Start(); ok {
		t.Error("punctuation has no start time")
	}
	if tr.Results.Items[0].Content() != "Now" {
		t.Error("Content() should return the first alternative")
	}
	if _, err := ParseTranscript([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestGetJobStatus(t *testing.T) {
	tests := []struct {
		name   string
		job    *types.MedicalTranscriptionJob
		state  State
		uri    string
		reason string
	}{
		{"queued", &types.MedicalTranscriptionJob{TranscriptionJobStatus: types.TranscriptionJobStatusQueued}, StateRunning, "", ""},
		{"in progress", &types.MedicalTranscriptionJob{TranscriptionJobStatus: types.TranscriptionJobStatusInProgress}, StateRunning, "", ""},
		{"completed", &types.MedicalTranscriptionJob{
			TranscriptionJobStatus: types.TranscriptionJobStatusCompleted,
			Transcript:             &types.MedicalTranscript{TranscriptFileUri: aws.String("s3://t/medical/cme-job-1.json")},
		}, StateCompleted, "s3://t/medical/cme-job-1.json", ""},
		{"failed with reason", &types.MedicalTranscriptionJob{
			TranscriptionJobStatus: types.TranscriptionJobStatusFailed,
			FailureReason:          aws.String("Invalid media format"),
		}, StateFailed, "", "Invalid media format"},
		{"failed without reason", &types.MedicalTranscriptionJob{TranscriptionJobStatus: types.TranscriptionJobStatusFailed}, StateFailed, "", "Unknown error"},
		{"unexpected", &types.MedicalTranscriptionJob{TranscriptionJobStatus: "PAUSED"}, StateUnknown, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAWSService(&fakeTranscribe{job: tt.job}, &fakeBlobs{})
			st, err := svc.GetJobStatus(context.Background(), "cme-job-1")
			if err != nil {
				t.Fatal(err)
			}
			if st.State != tt.state || st.TranscriptURI != tt.uri || st.FailureReason != tt.reason {
				t.Errorf("got %+v", st)
			}
		})
	}

	svc := NewAWSService(&fakeTranscribe{err: errors.New("AccessDenied")}, &fakeBlobs{})
	if _, err := svc.GetJobStatus(context.Background(), "x"); err == nil {
		t.Error("expected client error to propagate")
	}
}

func TestFetchTranscript(t *testing.T) {
	blobs := &fakeBlobs{objects: map[string][]byte{"t/medical/cme-job-1.json": []byte(sampleTranscript)}}
	svc := NewAWSService(&fakeTranscribe{}, blobs)
	ctx := context.Background()

	tr, err := svc.FetchTranscript(ctx, "s3://t/medical/cme-job-1.json")
	if err != nil || tr.JobName != "cme-job-1" {
		t.Fatalf("s3 fetch: %+v, %v", tr, err)
	}

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sampleTranscript))
	}))
	defer srv.Close()
	svc.http = srv.Client()

	tr, err = svc.FetchTranscript(ctx, srv.URL+"/transcript.json")
	if err != nil || tr.Text() != "Now bend forward for me." {
		t.Fatalf("https fetch: %+v, %v", tr, err)
	}
	if _, err := svc.FetchTranscript(ctx, srv.URL+"/missing"); err == nil {
		t.Error("expected error on HTTP 404")
	}
	if _, err := svc.FetchTranscript(ctx, "ftp://host/file.json"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

type scriptedService struct {
	status     JobStatus
	transcript *Transcript
	fetchErr   error
}

func (s *scriptedService) GetJobStatus(ctx context.Context, jobName string) (JobStatus, error) {
	return s.status, nil
}

func (s *scriptedService) FetchTranscript(ctx context.Context, uri string) (*Transcript, error) {
	return s.transcript, s.fetchErr
}

type recordingSessions struct {
	updates []store.SessionUpdate
}

func (r *recordingSessions) PutAction(ctx context.Context, a *store.ObservedAction) error { return nil }
func (r *recordingSessions) ListActions(ctx context.Context, id string) ([]*store.ObservedAction, error) {
	return nil, nil
}
func (r *recordingSessions) PutSession(ctx context.Context, s *store.Session) error { return nil }
func (r *recordingSessions) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return nil, nil
}
func (r *recordingSessions) UpdateSession(ctx context.Context, id string, u store.SessionUpdate) error {
	r.updates = append(r.updates, u)
	return nil
}

func TestWaiter_InProgress(t *testing.T) {
	sessions := &recordingSessions{}
	w := NewWaiter(&scriptedService{status: JobStatus{State: StateRunning, RawStatus: "QUEUED"}}, sessions)

	_, err := w.Check(context.Background(), "s1", "job-1")
	var inProgress *TranscriptionInProgress
	if !errors.As(err, &inProgress) {
		t.Fatalf("expected TranscriptionInProgress, got %v", err)
	}
	if inProgress.Status != "QUEUED" {
		t.Errorf("status = %s", inProgress.Status)
	}
	if len(sessions.updates) != 0 {
		t.Error("session must not change while the job is running")
	}
}

func TestWaiter_Completed(t *testing.T) {
	sessions := &recordingSessions{}
	tr, _ := ParseTranscript([]byte(sampleTranscript))
	w := NewWaiter(&scriptedService{
		status:     JobStatus{State: StateCompleted, RawStatus: "COMPLETED", TranscriptURI: "s3://t/k.json"},
		transcript: tr,
	}, sessions)

	res, err := w.Check(context.Background(), "s1", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "COMPLETED" || res.Transcript == nil || res.TranscriptURI != "s3://t/k.json" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sessions.updates) != 1 {
		t.Fatalf("expected one session update, got %d", len(sessions.updates))
	}
	u := sessions.updates[0]
	if u.TranscriptURI != "s3://t/k.json" || u.ProcessingStage != store.StageNLPAnalysis || u.Status != "" {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestWaiter_CompletedDownloadFails(t *testing.T) {
	sessions := &recordingSessions{}
	w := NewWaiter(&scriptedService{
		status:   JobStatus{State: StateCompleted, RawStatus: "COMPLETED", TranscriptURI: "s3://t/k.json"},
		fetchErr: errors.New("NoSuchKey"),
	}, sessions)

	res, err := w.Check(context.Background(), "s1", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Transcript != nil {
		t.Error("transcript should be absent when download fails")
	}
	if len(sessions.updates) != 1 {
		t.Error("session should still advance")
	}
}

func TestWaiter_Failed(t *testing.T) {
	sessions := &recordingSessions{}
	w := NewWaiter(&scriptedService{status: JobStatus{State: StateFailed, RawStatus: "FAILED", FailureReason: "bad audio"}}, sessions)

	res, err := w.Check(context.Background(), "s1", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "FAILED" || res.Message != "bad audio" {
		t.Errorf("unexpected result %+v", res)
	}
	u := sessions.updates[0]
	if u.Status != store.StatusError || u.ProcessingStage != "transcription_failed: bad audio" {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestWaiter_Errors(t *testing.T) {
	w := NewWaiter(&scriptedService{status: JobStatus{State: StateUnknown, RawStatus: "PAUSED"}}, &recordingSessions{})
	if _, err := w.Check(context.Background(), "s1", "job-1"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := w.Check(context.Background(), "", "job-1"); err == nil {
		t.Error("expected error for missing session ID")
	}
}

func TestJobName(t *testing.T) {
	name := JobName("3f2a")
	if name != "cme-3f2a" {
		t.Errorf("JobName = %s", name)
	}
	if id, ok := SessionFromJobName(name); !ok || id != "3f2a" {
		t.Errorf("SessionFromJobName(%s) = %s, %v", name, id, ok)
	}
	for _, other := range []string{"cme-", "podcast-42", ""} {
		if _, ok := SessionFromJobName(other); ok {
			t.Errorf("%q should not map to a session", other)
		}
	}
}
