// Package vision drives the asynchronous video-analysis jobs used to check a
// declared test against the recording.
//
// Two job kinds share one protocol: submit, poll until terminal, read the
// typed Detections. The Poller owns the state transitions; Decide is the pure
// "terminal yet / keep waiting / budget exhausted" step, kept separate from
// the timer that actually waits so the wait budget can be tested without
// sleeping.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies which analysis a job performs.
type Kind string

const (
	KindMotion Kind = "motion" // label detection
	KindPose   Kind = "pose"   // person tracking
)

// Valid reports whether k is one of the known job kinds.
func (k Kind) Valid() bool {
	return k == KindMotion || k == KindPose
}

// Status is the local lifecycle state of an AsyncJob.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further polling can change s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RemoteStatus is the provider's view of a job as reported by one poll.
type RemoteStatus int

const (
	RemoteRunning RemoteStatus = iota
	RemoteSucceeded
	RemoteFailed
)

// PollResult is what a Service reports for one status query.
type PollResult struct {
	Status        RemoteStatus
	Result        *Detections
	FailureReason string
}

// Service is the remote vision provider. Implementations must be safe for
// concurrent use.
type Service interface {
	Submit(ctx context.Context, kind Kind, bucket, key string) (string, error)
	Poll(ctx context.Context, jobID string, kind Kind) (PollResult, error)
}

// AsyncJob is one submitted analysis job.
type AsyncJob struct {
	JobID         string      `json:"jobId"`
	Kind          Kind        `json:"kind"`
	Status        Status      `json:"status"`
	Result        *Detections `json:"result,omitempty"`
	FailureReason string      `json:"failureReason,omitempty"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"lastError,omitempty"`
}

// ErrUnknownKind is returned when a job kind is neither motion nor pose.
var ErrUnknownKind = errors.New("unknown vision job kind")

// Action is the outcome of one Decide step.
type Action int

const (
	ActionDone Action = iota
	ActionWait
	ActionExhausted
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionWait:
		return "wait"
	case ActionExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Decision tells the waiting loop what to do next.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Decide is the pure step of the bounded wait: a terminal job is done, a job
// whose elapsed time has reached maxWait is exhausted, anything else waits
// for interval, shortened so the next poll never lands past the budget.
func Decide(job AsyncJob, elapsed, maxWait, interval time.Duration) Decision {
	if job.Status.Terminal() {
		return Decision{Action: ActionDone}
	}
	if elapsed >= maxWait {
		return Decision{Action: ActionExhausted}
	}
	delay := interval
	if remaining := maxWait - elapsed; delay > remaining {
		delay = remaining
	}
	if delay <= 0 {
		return Decision{Action: ActionExhausted}
	}
	return Decision{Action: ActionWait, Delay: delay}
}

// Poller submits and polls jobs against a Service.
type Poller struct {
	svc   Service
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller that waits on real timers.
func NewPoller(svc Service) *Poller {
	return &Poller{svc: svc, now: time.Now, sleep: timerSleep}
}

// timerSleep blocks for d or until ctx is done.
func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts a job of the given kind on the object at bucket/key.
// Submission errors are returned as-is; they are not retried here.
func (p *Poller) Submit(ctx context.Context, kind Kind, bucket, key string) (AsyncJob, error) {
	if !kind.Valid() {
		return AsyncJob{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	jobID, err := p.svc.Submit(ctx, kind, bucket, key)
	if err != nil {
		return AsyncJob{}, fmt.Errorf("submit %s job: %w", kind, err)
	}
	log.Info().Str("kind", string(kind)).Str("jobId", jobID).Str("key", key).Msg("Vision job submitted")
	return AsyncJob{JobID: jobID, Kind: kind, Status: StatusInProgress}, nil
}

// Poll queries the remote job once. Terminal jobs are returned unchanged
// without a remote call. A transport error leaves the job IN_PROGRESS and is
// returned to the caller as transient.
func (p *Poller) Poll(ctx context.Context, job AsyncJob) (AsyncJob, error) {
	if job.Status.Terminal() {
		return job, nil
	}
	job.Attempts++
	res, err := p.svc.Poll(ctx, job.JobID, job.Kind)
	if err != nil {
		job.LastError = err.Error()
		return job, fmt.Errorf("poll %s job %s: %w", job.Kind, job.JobID, err)
	}
	switch res.Status {
	case RemoteSucceeded:
		job.Status = StatusCompleted
		job.Result = res.Result
		if job.Result == nil {
			job.Result = &Detections{}
		}
	case RemoteFailed:
		job.Status = StatusFailed
		job.FailureReason = res.FailureReason
		if job.FailureReason == "" {
			job.FailureReason = "Unknown error"
		}
	default:
		job.Status = StatusInProgress
	}
	return job, nil
}

// AwaitTerminal polls job every interval until it is terminal or maxWait has
// elapsed. It never fails: on budget exhaustion or context cancellation the
// job comes back still IN_PROGRESS, and callers treat that as not observed.
func (p *Poller) AwaitTerminal(ctx context.Context, job AsyncJob, maxWait, interval time.Duration) AsyncJob {
	start := p.now()
	for {
		var err error
		job, err = p.Poll(ctx, job)
		if err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Int("attempt", job.Attempts).Msg("Vision poll failed, will retry")
		}

		d := Decide(job, p.now().Sub(start), maxWait, interval)
		switch d.Action {
		case ActionDone:
			log.Debug().
				Str("jobId", job.JobID).
				Str("kind", string(job.Kind)).
				Str("status", string(job.Status)).
				Int("attempts", job.Attempts).
				Msg("Vision job reached terminal state")
			return job
		case ActionExhausted:
			log.Warn().
				Str("jobId", job.JobID).
				Str("kind", string(job.Kind)).
				Int("attempts", job.Attempts).
				Dur("maxWait", maxWait).
				Msg("Vision job wait budget exhausted")
			return job
		}

		if err := p.sleep(ctx, d.Delay); err != nil {
			job.LastError = err.Error()
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("Vision job wait cancelled")
			return job
		}
	}
}
