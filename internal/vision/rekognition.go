package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rktypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog/log"
)

// maxResultPages bounds NextToken pagination on a single Get* call chain.
const maxResultPages = 50

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	StartLabelDetection(ctx context.Context, in *rekognition.StartLabelDetectionInput, optFns ...func(*rekognition.Options)) (*rekognition.StartLabelDetectionOutput, error)
	StartPersonTracking(ctx context.Context, in *rekognition.StartPersonTrackingInput, optFns ...func(*rekognition.Options)) (*rekognition.StartPersonTrackingOutput, error)
	GetLabelDetection(ctx context.Context, in *rekognition.GetLabelDetectionInput, optFns ...func(*rekognition.Options)) (*rekognition.GetLabelDetectionOutput, error)
	GetPersonTracking(ctx context.Context, in *rekognition.GetPersonTrackingInput, optFns ...func(*rekognition.Options)) (*rekognition.GetPersonTrackingOutput, error)
}

// RekognitionService binds Service to Amazon Rekognition Video:
// label detection for motion jobs, person tracking for pose jobs.
type RekognitionService struct {
	client        RekognitionAPI
	minConfidence float32
}

// Compile-time interface check.
var _ Service = (*RekognitionService)(nil)

// NewRekognitionService wraps a Rekognition client. minConfidence is passed
// to StartLabelDetection; zero means DefaultMinLabelConfidence.
func NewRekognitionService(client RekognitionAPI, minConfidence float64) *RekognitionService {
	if minConfidence <= 0 {
		minConfidence = DefaultMinLabelConfidence
	}
	return &RekognitionService{client: client, minConfidence: float32(minConfidence)}
}

func s3Video(bucket, key string) *rktypes.Video {
	return &rktypes.Video{S3Object: &rktypes.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)}}
}

// Submit starts the Rekognition job for kind.
func (s *RekognitionService) Submit(ctx context.Context, kind Kind, bucket, key string) (string, error) {
	switch kind {
	case KindMotion:
		out, err := s.client.StartLabelDetection(ctx, &rekognition.StartLabelDetectionInput{
			Video:         s3Video(bucket, key),
			MinConfidence: aws.Float32(s.minConfidence),
			Features:      []rktypes.LabelDetectionFeatureName{rktypes.LabelDetectionFeatureNameGeneralLabels},
		})
		if err != nil {
			return "", fmt.Errorf("StartLabelDetection: %w", err)
		}
		return aws.ToString(out.JobId), nil
	case KindPose:
		out, err := s.client.StartPersonTracking(ctx, &rekognition.StartPersonTrackingInput{
			Video: s3Video(bucket, key),
		})
		if err != nil {
			return "", fmt.Errorf("StartPersonTracking: %w", err)
		}
		return aws.ToString(out.JobId), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Poll reads the job status and, once it has succeeded, every result page.
func (s *RekognitionService) Poll(ctx context.Context, jobID string, kind Kind) (PollResult, error) {
	switch kind {
	case KindMotion:
		return s.pollLabels(ctx, jobID)
	case KindPose:
		return s.pollPersons(ctx, jobID)
	}
	return PollResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func remoteStatus(st rktypes.VideoJobStatus) RemoteStatus {
	switch st {
	case rktypes.VideoJobStatusSucceeded:
		return RemoteSucceeded
	case rktypes.VideoJobStatusFailed:
		return RemoteFailed
	}
	return RemoteRunning
}

func (s *RekognitionService) pollLabels(ctx context.Context, jobID string) (PollResult, error) {
	in := &rekognition.GetLabelDetectionInput{JobId: aws.String(jobID)}
	out, err := s.client.GetLabelDetection(ctx, in)
	if err != nil {
		return PollResult{}, fmt.Errorf("GetLabelDetection: %w", err)
	}
	res := PollResult{Status: remoteStatus(out.JobStatus), FailureReason: aws.ToString(out.StatusMessage)}
	if res.Status != RemoteSucceeded {
		return res, nil
	}

	d := &Detections{}
	for page := 0; ; page++ {
		for _, l := range out.Labels {
			if l.Label == nil {
				continue
			}
			d.Labels = append(d.Labels, LabelDetection{
				TimestampMs: l.Timestamp,
				Name:        aws.ToString(l.Label.Name),
				Confidence:  float64(aws.ToFloat32(l.Label.Confidence)),
			})
		}
		if out.NextToken == nil || page+1 >= maxResultPages {
			break
		}
		in.NextToken = out.NextToken
		if out, err = s.client.GetLabelDetection(ctx, in); err != nil {
			return PollResult{}, fmt.Errorf("GetLabelDetection page %d: %w", page+1, err)
		}
	}
	log.Debug().Str("jobId", jobID).Int("labels", len(d.Labels)).Msg("Label detection results read")
	res.Result = d
	return res, nil
}

func (s *RekognitionService) pollPersons(ctx context.Context, jobID string) (PollResult, error) {
	in := &rekognition.GetPersonTrackingInput{JobId: aws.String(jobID)}
	out, err := s.client.GetPersonTracking(ctx, in)
	if err != nil {
		return PollResult{}, fmt.Errorf("GetPersonTracking: %w", err)
	}
	res := PollResult{Status: remoteStatus(out.JobStatus), FailureReason: aws.ToString(out.StatusMessage)}
	if res.Status != RemoteSucceeded {
		return res, nil
	}

	d := &Detections{}
	for page := 0; ; page++ {
		for _, p := range out.Persons {
			det := PersonDetection{TimestampMs: p.Timestamp}
			if p.Person != nil {
				idx := p.Person.Index
				det.Index = &idx
			}
			d.Persons = append(d.Persons, det)
		}
		if out.NextToken == nil || page+1 >= maxResultPages {
			break
		}
		in.NextToken = out.NextToken
		if out, err = s.client.GetPersonTracking(ctx, in); err != nil {
			return PollResult{}, fmt.Errorf("GetPersonTracking page %d: %w", page+1, err)
		}
	}
	log.Debug().Str("jobId", jobID).Int("persons", len(d.Persons)).Msg("Person tracking results read")
	res.Result = d
	return res, nil
}
