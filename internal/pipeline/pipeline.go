// Package pipeline sequences the review of one declared test: cut the
// segment, submit both vision jobs, wait for both, reconcile, persist.
//
// Every call to Process for a valid test persists exactly one
// ObservedAction. Failures along the way (segment extraction, job
// submission, jobs that never finish) are declared outcomes that end in the
// conservative verdict with an error marker; they are not returned as
// errors. Only contract violations and persistence failures are.
//
// The wait for the vision jobs is capped so that DeadlineReserve of the
// caller's deadline is left for the final writes, and those writes run on a
// context detached from the caller's cancellation.
//
// An Orchestrator holds no per-call state and is safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/cme-video-review/internal/catalog"
	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/jobutil"
	"github.com/fpang/cme-video-review/internal/metrics"
	"github.com/fpang/cme-video-review/internal/reconcile"
	"github.com/fpang/cme-video-review/internal/record"
	"github.com/fpang/cme-video-review/internal/segment"
	"github.com/fpang/cme-video-review/internal/store"
	"github.com/fpang/cme-video-review/internal/vision"
)

// Stage is a step of the per-test state machine.
type Stage string

const (
	StagePlanning           Stage = "PLANNING"
	StageSegmentExtracted   Stage = "SEGMENT_EXTRACTED"
	StageSegmentFailed      Stage = "SEGMENT_FAILED"
	StageJobsSubmitted      Stage = "JOBS_SUBMITTED"
	StageAwaitingCompletion Stage = "AWAITING_COMPLETION"
	StageReconciled         Stage = "RECONCILED"
	StagePersisted          Stage = "PERSISTED"
)

// ErrInvalidRequest marks a request missing its session or video key.
var ErrInvalidRequest = errors.New("invalid pipeline request")

// Request is the Step Functions Map item for one declared test.
type Request struct {
	SessionID string              `json:"session_id"`
	VideoKey  string              `json:"video_s3_key"`
	Bucket    string              `json:"bucket,omitempty"`
	Test      record.DeclaredTest `json:"declared_test"`
}

func (r Request) validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if r.VideoKey == "" {
		return fmt.Errorf("%w: video_s3_key is required", ErrInvalidRequest)
	}
	return r.Test.Validate()
}

// Result summarises one processed test.
type Result struct {
	SessionID        string  `json:"session_id"`
	DeclaredStepID   string  `json:"declared_step_id"`
	TestType         string  `json:"test_type"`
	ObservedActionID string  `json:"observed_action_id"`
	MotionPresent    string  `json:"motion_present"`
	PoseMatch        string  `json:"pose_match"`
	Confidence       float64 `json:"confidence_score"`
	Stages           []Stage `json:"stages"`
	Error            string  `json:"error,omitempty"`

	Action *store.ObservedAction `json:"-"`
}

// Segmenter cuts a window out of a recording.
type Segmenter interface {
	Extract(ctx context.Context, bucket, videoKey, destKey string, w segment.Window) (string, error)
}

// FrameGrabber stores a still frame of a recording.
type FrameGrabber interface {
	Snapshot(ctx context.Context, bucket, videoKey, destKey string, timestamp float64) (string, error)
}

// Publisher announces persisted verdicts.
type Publisher interface {
	ObservedActionRecorded(ctx context.Context, a *store.ObservedAction) error
}

// BlobPutter stores evidence archives.
type BlobPutter interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// Deps are the collaborators of an Orchestrator. Frames, Blobs, Events and
// Metrics are optional.
type Deps struct {
	Segments Segmenter
	Frames   FrameGrabber
	Vision   vision.Service
	Store    store.ActionStore
	Blobs    BlobPutter
	Catalog  *catalog.Catalog
	Engine   *reconcile.Engine
	Events   Publisher
	Metrics  io.Writer
}

// DefaultDeadlineReserve is kept back from the caller's deadline for the
// archive, the record write and the event.
const DefaultDeadlineReserve = 30 * time.Second

// Options are the tunables of an Orchestrator.
type Options struct {
	Bucket          string
	SegmentPrefix   string
	EvidencePrefix  string
	Pad             float64
	Duration        float64
	PollInterval    time.Duration
	MaxWait         time.Duration
	ArchiveLevel    int
	DeadlineReserve time.Duration
	WriteTimeout    time.Duration
}

// OptionsFromConfig copies the relevant settings of a validated config.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Bucket:         c.Storage.Bucket,
		SegmentPrefix:  c.Storage.SegmentPrefix,
		EvidencePrefix: c.Storage.EvidencePrefix,
		Pad:            c.Segment.PadSeconds(),
		Duration:       c.Segment.Duration,
		PollInterval:   c.Vision.PollInterval,
		MaxWait:        c.Vision.MaxWait,
		ArchiveLevel:   c.Pipeline.ArchiveLevel,
	}
}

// Orchestrator runs the per-test pipeline.
type Orchestrator struct {
	deps    Deps
	opts    Options
	poller  *vision.Poller
	writer  *record.Writer
	codec   *evidenceCodec
	metrics io.Writer
	now     func() time.Time
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Segments == nil || deps.Vision == nil || deps.Store == nil || deps.Engine == nil {
		return nil, fmt.Errorf("pipeline: segments, vision, store and engine are required")
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if opts.MaxWait <= 0 || opts.PollInterval <= 0 {
		return nil, fmt.Errorf("pipeline: poll interval and max wait must be positive")
	}
	if opts.DeadlineReserve <= 0 {
		opts.DeadlineReserve = DefaultDeadlineReserve
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = jobutil.WriteTimeout
	}
	var codec *evidenceCodec
	if deps.Blobs != nil {
		level := opts.ArchiveLevel
		if level <= 0 {
			level = 3
		}
		var err error
		if codec, err = newEvidenceCodec(level); err != nil {
			return nil, err
		}
	}
	out := deps.Metrics
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		poller:  vision.NewPoller(deps.Vision),
		writer:  record.NewWriter(deps.Store),
		codec:   codec,
		metrics: out,
		now:     time.Now,
	}, nil
}

// Process reviews one declared test. A nil error means exactly one
// ObservedAction was persisted.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	start := o.now()
	bucket := req.Bucket
	if bucket == "" {
		bucket = o.opts.Bucket
	}
	res := &Result{
		SessionID:      req.SessionID,
		DeclaredStepID: req.Test.DeclaredStepID,
		TestType:       req.Test.Label,
		Stages:         []Stage{StagePlanning},
	}
	logger := log.With().
		Str("sessionId", req.SessionID).
		Str("declaredStepId", req.Test.DeclaredStepID).
		Str("testType", req.Test.Label).
		Logger()

	w := segment.Plan(req.Test.Timestamp, o.opts.Pad, o.opts.Duration)
	segKey := segment.SegmentKey(o.opts.SegmentPrefix, req.SessionID, req.Test.Timestamp, w.Duration)
	logger.Info().Float64("start", w.Start).Float64("duration", w.Duration).Str("segmentKey", segKey).Msg("Segment planned")

	var ev record.Evidence
	if _, err := o.deps.Segments.Extract(ctx, bucket, req.VideoKey, segKey, w); err != nil {
		logger.Error().Err(err).Msg("Segment extraction failed")
		res.Stages = append(res.Stages, StageSegmentFailed)
		wctx, cancel := jobutil.Detached(ctx, o.opts.WriteTimeout)
		defer cancel()
		action, perr := o.writer.PersistFailure(wctx, req.SessionID, req.Test, ev, "segment extraction failed: "+err.Error())
		if perr != nil {
			return nil, perr
		}
		return o.finish(wctx, res, action, start), nil
	}
	ev.SegmentKey = segKey
	res.Stages = append(res.Stages, StageSegmentExtracted)

	motion, pose, frameKey := o.submit(ctx, bucket, segKey, req)
	ev.FrameKey = frameKey
	res.Stages = append(res.Stages, StageJobsSubmitted)

	// A rejected submission already fixes the verdict; the sibling job is
	// left to finish on its own.
	maxWait := o.waitBudget(ctx)
	if motion.Status != vision.StatusFailed && pose.Status != vision.StatusFailed {
		res.Stages = append(res.Stages, StageAwaitingCompletion)
		motion, pose = o.await(ctx, motion, pose, maxWait)
	}
	ev.MotionJob, ev.PoseJob = motion, pose
	ev.Error = jobError(motion, pose, maxWait)

	exp, ok := o.deps.Catalog.Lookup(req.Test.Label)
	if !ok {
		logger.Warn().Msg("Test type not in catalog, no movements expected")
	}
	verdict := o.deps.Engine.Reconcile(motion, pose, exp)
	res.Stages = append(res.Stages, StageReconciled)

	wctx, cancel := jobutil.Detached(ctx, o.opts.WriteTimeout)
	defer cancel()
	ev.EvidenceKey = o.archive(wctx, bucket, req, segKey, motion, pose)

	action, err := o.writer.Persist(wctx, req.SessionID, req.Test, verdict, ev)
	if err != nil {
		return nil, err
	}
	return o.finish(wctx, res, action, start), nil
}

// waitBudget is MaxWait, shortened so the wait ends DeadlineReserve before
// ctx's deadline. It is zero when the reserve is already eaten into.
func (o *Orchestrator) waitBudget(ctx context.Context) time.Duration {
	budget := o.opts.MaxWait
	if dl, ok := ctx.Deadline(); ok {
		left := dl.Sub(o.now()) - o.opts.DeadlineReserve
		if left < budget {
			budget = max(left, 0)
		}
	}
	return budget
}

// submit starts both vision jobs and the optional frame snapshot
// concurrently and waits for all three. A failed submission comes back as a
// FAILED job carrying the error.
func (o *Orchestrator) submit(ctx context.Context, bucket, segKey string, req Request) (motion, pose vision.AsyncJob, frameKey string) {
	var g errgroup.Group
	submitOne := func(kind vision.Kind, dst *vision.AsyncJob) func() error {
		return func() error {
			job, err := o.poller.Submit(ctx, kind, bucket, segKey)
			if err != nil {
				log.Error().Err(err).Str("kind", string(kind)).Str("sessionId", req.SessionID).Msg("Vision job submission failed")
				job = vision.AsyncJob{Kind: kind, Status: vision.StatusFailed, FailureReason: "submission failed: " + err.Error()}
			}
			*dst = job
			return nil
		}
	}
	g.Go(submitOne(vision.KindMotion, &motion))
	g.Go(submitOne(vision.KindPose, &pose))
	if o.deps.Frames != nil {
		g.Go(func() error {
			key := segment.FrameKey(o.opts.SegmentPrefix, req.SessionID, req.Test.Timestamp)
			if _, err := o.deps.Frames.Snapshot(ctx, bucket, req.VideoKey, key, req.Test.Timestamp); err != nil {
				log.Warn().Err(err).Str("sessionId", req.SessionID).Msg("Frame snapshot failed")
				return nil
			}
			frameKey = key
			return nil
		})
	}
	g.Wait()
	return motion, pose, frameKey
}

// await polls both jobs concurrently and returns once both are terminal or
// out of budget.
func (o *Orchestrator) await(ctx context.Context, motion, pose vision.AsyncJob, maxWait time.Duration) (vision.AsyncJob, vision.AsyncJob) {
	var g errgroup.Group
	g.Go(func() error {
		motion = o.poller.AwaitTerminal(ctx, motion, maxWait, o.opts.PollInterval)
		return nil
	})
	g.Go(func() error {
		pose = o.poller.AwaitTerminal(ctx, pose, maxWait, o.opts.PollInterval)
		return nil
	})
	g.Wait()
	return motion, pose
}

// jobError describes why a verdict fell back to the conservative default.
func jobError(motion, pose vision.AsyncJob, maxWait time.Duration) string {
	var parts []string
	for _, j := range []vision.AsyncJob{motion, pose} {
		switch j.Status {
		case vision.StatusFailed:
			parts = append(parts, fmt.Sprintf("%s job failed: %s", j.Kind, j.FailureReason))
		case vision.StatusInProgress:
			msg := fmt.Sprintf("%s job not finished within %s", j.Kind, maxWait)
			if j.LastError != "" {
				msg += " (last error: " + j.LastError + ")"
			}
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, "; ")
}

// archive stores the raw detections. Failures are logged and yield "".
func (o *Orchestrator) archive(ctx context.Context, bucket string, req Request, segKey string, motion, pose vision.AsyncJob) string {
	if o.codec == nil || (motion.Result == nil && pose.Result == nil) {
		return ""
	}
	data, err := o.codec.encode(&EvidenceArchive{
		SessionID:      req.SessionID,
		DeclaredStepID: req.Test.DeclaredStepID,
		TestType:       req.Test.Label,
		SegmentKey:     segKey,
		Motion:         motion,
		Pose:           pose,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Evidence encoding failed")
		return ""
	}
	key := EvidenceKey(o.opts.EvidencePrefix, req.SessionID, req.Test.DeclaredStepID)
	if _, err := o.deps.Blobs.Put(ctx, bucket, key, data, "application/zstd"); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Evidence archive upload failed")
		return ""
	}
	return key
}

// finish fills the result, emits the event and metrics.
func (o *Orchestrator) finish(ctx context.Context, res *Result, a *store.ObservedAction, start time.Time) *Result {
	res.Stages = append(res.Stages, StagePersisted)
	res.Action = a
	res.ObservedActionID = a.ObservedActionID
	res.MotionPresent = a.MotionPresent
	res.PoseMatch = a.PoseMatch
	res.Confidence = a.ConfidenceScore
	res.Error = a.AnalysisDetails.Error

	if o.deps.Events != nil {
		if err := o.deps.Events.ObservedActionRecorded(ctx, a); err != nil {
			log.Warn().Err(err).Str("observedActionId", a.ObservedActionID).Msg("ObservedActionRecorded event not published")
		}
	}

	rec := metrics.New(metrics.Namespace).Output(o.metrics).
		Dimension("TestType", a.TestType).
		Dimension("MotionPresent", a.MotionPresent).
		Count("ObservedActions").
		Metric("Confidence", a.ConfidenceScore, metrics.UnitNone).
		Duration("ProcessingLatency", o.now().Sub(start)).
		Property("sessionId", a.SessionID).
		Property("observedActionId", a.ObservedActionID)
	if res.Error != "" {
		rec.Count("DegradedVerdicts")
	}
	rec.Flush()
	return res
}
