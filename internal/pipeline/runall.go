package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is how many tests are processed at once.
const DefaultConcurrency = 3

// Outcome pairs a request with its result or error.
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

// RunAll processes reqs with at most concurrency tests in flight and
// returns outcomes in request order. One test's error never cancels its
// siblings.
func (o *Orchestrator) RunAll(ctx context.Context, reqs []Request, concurrency int) []Outcome {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Process(ctx, req)
			if err != nil {
				log.Error().Err(err).Str("sessionId", req.SessionID).Str("declaredStepId", req.Test.DeclaredStepID).Msg("Declared test processing failed")
			}
			out[i] = Outcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return out
}
