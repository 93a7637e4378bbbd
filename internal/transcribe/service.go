// Package transcribe checks AWS Transcribe Medical jobs and loads the
// transcripts they produce.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"github.com/fpang/cme-video-review/internal/blob"
)

// State is the coarse status of a transcription job.
type State int

const (
	StateRunning State = iota
	StateCompleted
	StateFailed
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// JobStatus is the result of one status query.
type JobStatus struct {
	State         State
	RawStatus     string
	TranscriptURI string
	FailureReason string
}

// Service is the transcription provider.
type Service interface {
	GetJobStatus(ctx context.Context, jobName string) (JobStatus, error)
	FetchTranscript(ctx context.Context, uri string) (*Transcript, error)
}

// TranscribeAPI is the subset of the Transcribe client used by AWSService.
type TranscribeAPI interface {
	GetMedicalTranscriptionJob(ctx context.Context, in *awstranscribe.GetMedicalTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.GetMedicalTranscriptionJobOutput, error)
}

// maxTranscriptBytes bounds an HTTPS transcript download.
const maxTranscriptBytes = 32 << 20

// AWSService implements Service on Transcribe Medical, reading s3://
// transcripts through the blob store and https:// ones over HTTP.
type AWSService struct {
	client TranscribeAPI
	blobs  blob.Store
	http   *http.Client
}

// Compile-time interface check.
var _ Service = (*AWSService)(nil)

// NewAWSService creates an AWSService.
func NewAWSService(client TranscribeAPI, blobs blob.Store) *AWSService {
	return &AWSService{
		client: client,
		blobs:  blobs,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// GetJobStatus maps the Transcribe job status onto State.
func (s *AWSService) GetJobStatus(ctx context.Context, jobName string) (JobStatus, error) {
	out, err := s.client.GetMedicalTranscriptionJob(ctx, &awstranscribe.GetMedicalTranscriptionJobInput{
		MedicalTranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return JobStatus{}, fmt.Errorf("GetMedicalTranscriptionJob %s: %w", jobName, err)
	}
	job := out.MedicalTranscriptionJob
	if job == nil {
		return JobStatus{}, fmt.Errorf("GetMedicalTranscriptionJob %s: empty response", jobName)
	}

	st := JobStatus{RawStatus: string(job.TranscriptionJobStatus)}
	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusQueued, types.TranscriptionJobStatusInProgress:
		st.State = StateRunning
	case types.TranscriptionJobStatusCompleted:
		st.State = StateCompleted
		if job.Transcript != nil {
			st.TranscriptURI = aws.ToString(job.Transcript.TranscriptFileUri)
		}
	case types.TranscriptionJobStatusFailed:
		st.State = StateFailed
		st.FailureReason = aws.ToString(job.FailureReason)
		if st.FailureReason == "" {
			st.FailureReason = "Unknown error"
		}
	default:
		st.State = StateUnknown
	}
	return st, nil
}

// FetchTranscript loads and parses the transcript at uri.
func (s *AWSService) FetchTranscript(ctx context.Context, uri string) (*Transcript, error) {
	var data []byte
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, key, err := blob.ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
		data, err = s.blobs.Get(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(uri, "https://"):
		var err error
		data, err = s.fetchHTTPS(ctx, uri)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported transcript URI %q", uri)
	}
	return ParseTranscript(data)
}

func (s *AWSService) fetchHTTPS(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET transcript: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
	if err != nil {
		return nil, fmt.Errorf("read transcript body: %w", err)
	}
	return data, nil
}
