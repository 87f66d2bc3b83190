package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs matrix jobs with bounded concurrency.
type Scheduler struct {
	concurrency int
	runJob      func(ctx context.Context, job JobPlan) JobResult
}

func NewScheduler(concurrency int, runJob func(ctx context.Context, job JobPlan) JobResult) (*Scheduler, error) {
	if runJob == nil {
		return nil, errors.New("job runner is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Scheduler{concurrency: concurrency, runJob: runJob}, nil
}

// Execute streams per-job results.
//
// Channel semantics:
//   - In the normal (non-canceled) case, exactly one JobResult is sent per job.
//   - On context cancellation, the scheduler stops promptly; it may emit fewer
//     than N results.
//   - The results channel and error channel are both closed reliably.
//   - The error channel carries fatal errors / cancellation signals; per-step
//     failures are recorded on the JobResult.
func (s *Scheduler) Execute(ctx context.Context, jobs []JobPlan) (<-chan JobResult, <-chan error) {
	resultsCh := make(chan JobResult)
	errCh := make(chan error, 1)

	go func() {
		defer close(resultsCh)
		defer close(errCh)

		trySendErr := func(err error) {
			if err == nil {
				return
			}
			select {
			case errCh <- err:
			default:
			}
		}

		if ctx == nil {
			trySendErr(errors.New("context is nil"))
			return
		}
		if s == nil || s.runJob == nil {
			trySendErr(errors.New("scheduler is not initialized"))
			return
		}

		g, runCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)

		for _, job := range jobs {
			if runCtx.Err() != nil {
				break
			}
			job := job
			g.Go(func() error {
				res := s.runJob(runCtx, job)
				select {
				case resultsCh <- res:
					return nil
				case <-runCtx.Done():
					return runCtx.Err()
				}
			})
		}

		if err := g.Wait(); err != nil {
			trySendErr(err)
			return
		}
		trySendErr(ctx.Err())
	}()

	return resultsCh, errCh
}
