package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/sbds/pkg/logging"
)

// Chain reports the node's current heights.
type Chain interface {
	HeadBlock(ctx context.Context) (int64, error)
	LastIrreversible(ctx context.Context) (int64, error)
}

// GapFinder lists block numbers missing from storage.
type GapFinder interface {
	MissingBlocks(ctx context.Context, start, end int64) ([]int64, error)
}

// Runner processes a set of block numbers.
type Runner interface {
	Run(ctx context.Context, nums []int64) (Summary, error)
}

// FailedSource lists previously failed block numbers.
type FailedSource interface {
	FailedBlocks(ctx context.Context) ([]int64, error)
}

// SyncOptions select what a Sync run covers.
type SyncOptions struct {
	StartBlock int64
	// EndBlock of zero means the chain's current height.
	EndBlock     int64
	UseHeadBlock bool
	// RetryFailed processes exactly the registered failures instead of
	// the gaps in [StartBlock, EndBlock].
	RetryFailed bool
	// Follow repeats the sync every Interval until ctx ends.
	Follow   bool
	Interval time.Duration
}

// Sync manages the blockchain synchronization process
type Sync struct {
	chain  Chain
	gaps   GapFinder
	runner Runner
	failed FailedSource
	opts   SyncOptions
	logger *zap.Logger
}

// NewSync creates a new sync manager
func NewSync(chain Chain, gaps GapFinder, runner Runner, failed FailedSource, opts SyncOptions) *Sync {
	if opts.StartBlock < 1 {
		opts.StartBlock = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	return &Sync{
		chain:  chain,
		gaps:   gaps,
		runner: runner,
		failed: failed,
		opts:   opts,
		logger: logging.WithComponent("sync"),
	}
}

// Target returns the last block number to sync.
func (s *Sync) Target(ctx context.Context) (int64, error) {
	if s.opts.EndBlock > 0 {
		return s.opts.EndBlock, nil
	}
	if s.opts.UseHeadBlock {
		return s.chain.HeadBlock(ctx)
	}
	return s.chain.LastIrreversible(ctx)
}

// Run syncs once, or keeps syncing when following. In follow mode it
// returns the last pass's summary when ctx ends.
func (s *Sync) Run(ctx context.Context) (Summary, error) {
	if s.opts.RetryFailed {
		return s.retryFailed(ctx)
	}
	if !s.opts.Follow {
		return s.syncOnce(ctx)
	}

	var last Summary
	for {
		summary, err := s.syncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			s.logger.Error("Sync pass failed", zap.Error(err))
		} else {
			last = summary
		}
		if !s.wait(ctx) {
			return last, ctx.Err()
		}
	}
}

func (s *Sync) syncOnce(ctx context.Context) (Summary, error) {
	end, err := s.Target(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get target block: %w", err)
	}
	if end < s.opts.StartBlock {
		s.logger.Info("Nothing to sync", zap.Int64("start", s.opts.StartBlock), zap.Int64("end", end))
		return Summary{Mode: "sync"}, nil
	}

	missing, err := s.gaps.MissingBlocks(ctx, s.opts.StartBlock, end)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to find missing blocks: %w", err)
	}
	if len(missing) == 0 {
		s.logger.Debug("Already synced",
			zap.Int64("start", s.opts.StartBlock),
			zap.Int64("end", end))
		return Summary{Mode: "sync"}, nil
	}

	s.logger.Info("Syncing blocks",
		zap.Int64("start", s.opts.StartBlock),
		zap.Int64("end", end),
		zap.Int("missing", len(missing)))
	return s.runner.Run(ctx, missing)
}

func (s *Sync) retryFailed(ctx context.Context) (Summary, error) {
	nums, err := s.failed.FailedBlocks(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(nums) == 0 {
		s.logger.Info("No failed blocks registered")
		return Summary{Mode: "retry-failed"}, nil
	}
	s.logger.Info("Retrying failed blocks", zap.Int("blocks", len(nums)))
	return s.runner.Run(ctx, nums)
}

// wait waits for the interval or until context is cancelled
func (s *Sync) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
