package indexer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/cache"
	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/pkg/telemetry"
)

// Stages a block can fail in, besides the fetch pipeline's own.
const (
	StageOpen       = "open"
	StageStore      = "store"
	StageCheckpoint = "checkpoint"
)

// Progress is what a worker reports for one block number once it reaches
// a terminal state.
type Progress struct {
	Worker     int
	BlockNum   int64
	State      State
	Stage      string
	SkippedOps int
	Backfilled bool
	Err        error
}

// Summary is the account of one run. Stored + Failed == Requested once
// the run finishes uninterrupted.
type Summary struct {
	Mode         string     `json:"mode"`
	Requested    int64      `json:"requested"`
	Stored       int64      `json:"stored"`
	Failed       int64      `json:"failed"`
	SkippedOps   int64      `json:"skipped_ops"`
	Backfills    int64      `json:"account_backfills"`
	FailedBlocks []int64    `json:"failed_blocks"`
	Uncovered    []db.Range `json:"uncovered,omitempty"`
	Running      bool       `json:"running"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Complete reports whether every requested block reached a terminal state.
func (s Summary) Complete() bool {
	return s.Stored+s.Failed == s.Requested
}

func (s Summary) clone() Summary {
	c := s
	c.FailedBlocks = append([]int64(nil), s.FailedBlocks...)
	c.Uncovered = append([]db.Range(nil), s.Uncovered...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// Status holds the latest Summary for readers outside the run.
type Status struct {
	mu      sync.RWMutex
	summary Summary
}

// NewStatus creates an empty status board
func NewStatus() *Status {
	return &Status{}
}

// Snapshot returns a copy of the latest summary.
func (s *Status) Snapshot() Summary {
	if s == nil {
		return Summary{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary.clone()
}

func (s *Status) publish(summary Summary) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.summary = summary.clone()
	s.mu.Unlock()
}

// FailureRecorder keeps failed block numbers across runs.
type FailureRecorder interface {
	AddFailed(ctx context.Context, failures ...cache.Failure) error
	RemoveFailed(ctx context.Context, nums ...int64) error
}

// aggregator folds worker progress into a Summary. It is owned by a
// single goroutine; other goroutines only see published snapshots.
type aggregator struct {
	summary   Summary
	status    *Status
	failures  []cache.Failure
	recovered []int64
	// trackRecovered keeps stored block numbers so they can be removed
	// from the failure registry.
	trackRecovered bool
}

func newAggregator(mode string, requested int64, status *Status, trackRecovered bool) *aggregator {
	a := &aggregator{
		summary: Summary{
			Mode:      mode,
			Requested: requested,
			Running:   true,
			StartedAt: time.Now().UTC(),
		},
		status:         status,
		trackRecovered: trackRecovered,
	}
	status.publish(a.summary)
	return a
}

func (a *aggregator) add(ctx context.Context, p Progress) {
	switch p.State {
	case Stored:
		a.summary.Stored++
		a.summary.SkippedOps += int64(p.SkippedOps)
		telemetry.BlockStored(ctx)
		telemetry.OperationsSkipped(ctx, p.SkippedOps)
		if a.trackRecovered {
			a.recovered = append(a.recovered, p.BlockNum)
		}
	default:
		a.summary.Failed++
		a.summary.FailedBlocks = append(a.summary.FailedBlocks, p.BlockNum)
		telemetry.BlockFailed(ctx, p.Stage)
		reason := ""
		if p.Err != nil {
			reason = p.Err.Error()
		}
		a.failures = append(a.failures, cache.Failure{BlockNum: p.BlockNum, Stage: p.Stage, Reason: reason})
	}
	if p.Backfilled {
		a.summary.Backfills++
	}
	a.status.publish(a.summary)
}

// consume folds progress until the channel closes.
func (a *aggregator) consume(ctx context.Context, progress <-chan Progress) {
	for p := range progress {
		a.add(ctx, p)
	}
}

// finish sorts the failed list, updates the failure registry and
// publishes the final summary.
func (a *aggregator) finish(ctx context.Context, failed FailureRecorder, logger *zap.Logger) Summary {
	sort.Slice(a.summary.FailedBlocks, func(i, j int) bool {
		return a.summary.FailedBlocks[i] < a.summary.FailedBlocks[j]
	})
	now := time.Now().UTC()
	a.summary.Running = false
	a.summary.FinishedAt = &now

	if failed != nil {
		// the registry must be updated even when the run was cancelled
		ctx = context.WithoutCancel(ctx)
		if err := failed.AddFailed(ctx, a.failures...); err != nil {
			logger.Warn("Failed to record failed blocks", zap.Int("count", len(a.failures)), zap.Error(err))
		}
		if err := failed.RemoveFailed(ctx, a.recovered...); err != nil {
			logger.Warn("Failed to clear recovered blocks", zap.Int("count", len(a.recovered)), zap.Error(err))
		}
	}

	a.status.publish(a.summary)
	return a.summary.clone()
}
