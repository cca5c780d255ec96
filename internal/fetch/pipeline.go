package fetch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/steem"
	"github.com/steemit/sbds/pkg/telemetry"
)

// Stages a block outcome can fail in.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
)

// Source fetches blocks with their ops in one round trip.
type Source interface {
	GetBlocksWithOps(ctx context.Context, nums []int64) ([]steem.BlockResult, error)
}

// Outcome is the pipeline's report for one requested block number.
type Outcome struct {
	BlockNum int64
	Result   *normalizer.Result
	// Retried is set when the block's batch was fetched a second time
	// after a retryable failure.
	Retried bool
	Stage   string
	Err     error
}

// BatchError reports a batch that failed after its retry.
type BatchError struct {
	Start int64
	Size  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d blocks starting at %d failed: %v", e.Size, e.Start, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Options bound the pipeline's concurrency.
type Options struct {
	BatchSize   int
	MaxInFlight int
	// CPUWorkers bounds concurrent normalization; defaults to NumCPU.
	CPUWorkers int
}

// Pipeline fetches and normalizes blocks.
type Pipeline struct {
	source Source
	norm   *normalizer.Normalizer
	opts   Options
	cpu    *semaphore.Weighted
	logger *zap.Logger
}

// New creates a pipeline
func New(source Source, norm *normalizer.Normalizer, opts Options, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 60
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.CPUWorkers <= 0 {
		opts.CPUWorkers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source: source,
		norm:   norm,
		opts:   opts,
		cpu:    semaphore.NewWeighted(int64(opts.CPUWorkers)),
		logger: logger,
	}
}

// Batches splits nums into consecutive batches of at most size.
func Batches(nums []int64, size int) [][]int64 {
	if size <= 0 {
		size = 1
	}
	batches := make([][]int64, 0, (len(nums)+size-1)/size)
	for start := 0; start < len(nums); start += size {
		end := start + size
		if end > len(nums) {
			end = len(nums)
		}
		batches = append(batches, nums[start:end])
	}
	return batches
}

// Run sends exactly one Outcome per block number on out, in no particular
// order, unless ctx is cancelled first. Batch failures are reported as
// outcomes and never stop the remaining batches.
func (p *Pipeline) Run(ctx context.Context, nums []int64, out chan<- Outcome) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxInFlight)

	for _, batch := range Batches(nums, p.opts.BatchSize) {
		batch := batch
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.runBatch(gctx, batch, out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) runBatch(ctx context.Context, batch []int64, out chan<- Outcome) {
	ctx, span := telemetry.StartSpan(ctx, "fetch.batch")
	defer span.End()
	span.SetAttributes(attribute.Int64("batch_start", batch[0]), attribute.Int("batch_size", len(batch)))

	logger := p.logger.With(zap.Int64("batch_start", batch[0]), zap.Int("batch_size", len(batch)))

	started := time.Now()
	results, err := p.source.GetBlocksWithOps(ctx, batch)
	retried := false
	if err != nil && steem.IsRetryable(err) && ctx.Err() == nil {
		logger.Warn("Retrying batch", zap.Error(err))
		retried = true
		results, err = p.source.GetBlocksWithOps(ctx, batch)
	}
	telemetry.ObserveBatch(ctx, err, started)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.Fail(span, err)
		logger.Error("Batch failed", zap.Bool("retried", retried), zap.Error(err))
		batchErr := &BatchError{Start: batch[0], Size: len(batch), Err: err}
		for _, num := range batch {
			if !send(ctx, out, Outcome{BlockNum: num, Retried: retried, Stage: StageFetch, Err: batchErr}) {
				return
			}
		}
		return
	}

	for _, res := range results {
		o := Outcome{BlockNum: res.Num, Retried: retried}
		if res.Err != nil {
			logger.Error("Block fetch failed", zap.Int64("block_num", res.Num), zap.Error(res.Err))
			o.Stage, o.Err = StageFetch, res.Err
		} else {
			o.Result, o.Err = p.normalize(ctx, res)
			if o.Err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("Block normalization failed", zap.Int64("block_num", res.Num), zap.Error(o.Err))
				o.Stage = StageNormalize
			}
		}
		if !send(ctx, out, o) {
			return
		}
	}
}

// normalize runs under the CPU semaphore so decoding cannot starve the
// goroutines waiting on the network.
func (p *Pipeline) normalize(ctx context.Context, res steem.BlockResult) (*normalizer.Result, error) {
	if err := p.cpu.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.cpu.Release(1)

	normalized, err := p.norm.Normalize(res.Block, res.Ops)
	if err != nil {
		return nil, err
	}
	if normalized.BlockNum() != res.Num {
		return nil, fmt.Errorf("block %d normalized as block %d", res.Num, normalized.BlockNum())
	}
	return normalized, nil
}

func send(ctx context.Context, out chan<- Outcome, o Outcome) bool {
	select {
	case out <- o:
		return true
	case <-ctx.Done():
		return false
	}
}
