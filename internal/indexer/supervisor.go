package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/sbds/pkg/logging"
)

// StartupError is a failure to open a worker's connections before any
// block was processed.
type StartupError struct {
	Worker int
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker %d failed to start: %v", e.Worker, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Options configure a Supervisor.
type Options struct {
	// Workers is the number of partitions processed in parallel.
	Workers int
	// Mode labels the summary.
	Mode string
	// ClearRecovered removes stored blocks from the failure registry.
	ClearRecovered bool
}

// Supervisor partitions block numbers across workers and folds their
// progress into a Summary.
type Supervisor struct {
	open   Opener
	failed FailureRecorder
	status *Status
	opts   Options
	logger *zap.Logger
}

// NewSupervisor creates a supervisor. failed and status may be nil.
func NewSupervisor(open Opener, failed FailureRecorder, status *Status, opts Options) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Mode == "" {
		opts.Mode = "sync"
	}
	return &Supervisor{
		open:   open,
		failed: failed,
		status: status,
		opts:   opts,
		logger: logging.WithComponent("supervisor"),
	}
}

// Partition splits nums into at most n contiguous parts whose sizes differ
// by at most one.
func Partition(nums []int64, n int) [][]int64 {
	if n <= 0 {
		n = 1
	}
	if n > len(nums) {
		n = len(nums)
	}
	if n == 0 {
		return nil
	}
	parts := make([][]int64, 0, n)
	size, extra := len(nums)/n, len(nums)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		parts = append(parts, nums[start:end])
		start = end
	}
	return parts
}

// Run processes nums and returns the run's summary. Every worker's
// resources are opened before any work starts; a failure there is a
// *StartupError and nothing is processed. Per-block failures never stop
// the run. When ctx ends early the summary is partial and ctx.Err() is
// returned.
func (s *Supervisor) Run(ctx context.Context, nums []int64) (Summary, error) {
	parts := Partition(nums, s.opts.Workers)

	resources := make([]*Resources, 0, len(parts))
	closeAll := func() {
		for _, r := range resources {
			r.Close()
		}
	}
	for i := range parts {
		r, err := s.open(ctx, i)
		if err != nil {
			closeAll()
			return Summary{}, &StartupError{Worker: i, Err: err}
		}
		resources = append(resources, r)
	}

	s.logger.Info("Starting workers",
		zap.String("mode", s.opts.Mode),
		zap.Int("blocks", len(nums)),
		zap.Int("workers", len(parts)))

	agg := newAggregator(s.opts.Mode, int64(len(nums)), s.status, s.opts.ClearRecovered)
	progress := make(chan Progress, outcomeBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.consume(ctx, progress)
	}()

	var g errgroup.Group
	for i, part := range parts {
		w := &worker{
			id:       i,
			res:      resources[i],
			progress: progress,
			logger:   logging.WithWorker("indexer", i),
		}
		part := part
		g.Go(func() error {
			defer w.res.Close()
			return w.run(ctx, part)
		})
	}
	err := g.Wait()
	close(progress)
	<-done

	summary := agg.finish(ctx, s.failed, s.logger)
	s.logger.Info("Run finished",
		zap.String("mode", summary.Mode),
		zap.Int64("requested", summary.Requested),
		zap.Int64("stored", summary.Stored),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped_ops", summary.SkippedOps),
		zap.Int64("account_backfills", summary.Backfills))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	return summary, err
}
