package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/sbds/internal/checkpoint"
	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/pkg/logging"
)

// Loader backfills blocks from checkpoint archives. A single reader feeds
// a bounded set of goroutines that normalize and store.
type Loader struct {
	reader      *checkpoint.Reader
	norm        *normalizer.Normalizer
	sink        Sink
	failed      FailureRecorder
	status      *Status
	concurrency int
	logger      *zap.Logger
}

// NewLoader creates a loader. failed and status may be nil.
func NewLoader(norm *normalizer.Normalizer, sink Sink, failed FailureRecorder, status *Status, concurrency int) *Loader {
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := logging.WithComponent("checkpoint-loader")
	return &Loader{
		reader:      checkpoint.NewReader(logger),
		norm:        norm,
		sink:        sink,
		failed:      failed,
		status:      status,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run loads [start, end] from the set. Sub-ranges no archive covers are
// logged and listed in Summary.Uncovered; they are not requested. Blocks
// the reader could not reach because a file was unreadable are reported
// failed.
func (l *Loader) Run(ctx context.Context, set *checkpoint.Set, start, end int64) (Summary, error) {
	if err := set.Validate(); err != nil {
		l.logger.Warn("Checkpoint set has holes", zap.Error(err))
	}
	plan, err := set.Plan(start, end)
	if err != nil {
		return Summary{}, err
	}
	for _, r := range plan.Missing {
		l.logger.Warn("No checkpoint covers range", zap.Stringer("range", r))
	}

	agg := newAggregator("checkpoint", plan.Covered(), l.status, false)
	agg.summary.Uncovered = plan.Missing

	items := make(chan checkpoint.Item, outcomeBuffer)
	progress := make(chan Progress, outcomeBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.consume(ctx, progress)
	}()

	w := &worker{progress: progress, logger: l.logger}

	var last int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(items)
		relay := make(chan checkpoint.Item)
		var streamErr error
		go func() {
			defer close(relay)
			streamErr = l.reader.Stream(gctx, plan, relay)
		}()
		for item := range relay {
			last = item.BlockNum
			select {
			case items <- item:
			case <-gctx.Done():
			}
		}
		if streamErr != nil && gctx.Err() == nil {
			l.logger.Error("Checkpoint stream failed", zap.Int64("last_block", last), zap.Error(streamErr))
			return l.failRest(gctx, w, plan, last, streamErr)
		}
		return nil
	})
	for i := 0; i < l.concurrency; i++ {
		g.Go(func() error {
			for item := range items {
				if err := w.report(gctx, l.handle(gctx, w, item)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	close(progress)
	<-done

	summary := agg.finish(ctx, l.failed, l.logger)
	l.logger.Info("Checkpoint load finished",
		zap.Int64("requested", summary.Requested),
		zap.Int64("stored", summary.Stored),
		zap.Int64("failed", summary.Failed),
		zap.Int("uncovered_ranges", len(summary.Uncovered)))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	return summary, err
}

func (l *Loader) handle(ctx context.Context, w *worker, item checkpoint.Item) Progress {
	p := Progress{BlockNum: item.BlockNum}
	tr := NewBlockTracker(item.BlockNum)

	if err := tr.Fetch(); err != nil {
		return w.broken(p, err)
	}
	if item.Err != nil {
		l.logger.Error("Checkpoint line unusable", zap.Int64("block_num", item.BlockNum), zap.Error(item.Err))
		p.Stage, p.Err = StageCheckpoint, item.Err
		return l.fail(w, tr, p)
	}

	if err := tr.Normalize(); err != nil {
		return w.broken(p, err)
	}
	res, err := l.norm.Normalize(item.Block, nil)
	if err != nil {
		l.logger.Error("Block normalization failed", zap.Int64("block_num", item.BlockNum), zap.Error(err))
		p.Stage, p.Err = StageCheckpoint, err
		return l.fail(w, tr, p)
	}
	if err := tr.Persist(); err != nil {
		return w.broken(p, err)
	}
	return w.store(ctx, l.sink, tr, res, p)
}

func (l *Loader) fail(w *worker, tr *BlockTracker, p Progress) Progress {
	if err := tr.Fail(); err != nil {
		return w.broken(p, errors.Join(p.Err, err))
	}
	p.State = tr.State()
	return p
}

// failRest reports every covered block after last as failed.
func (l *Loader) failRest(ctx context.Context, w *worker, plan checkpoint.Plan, last int64, cause error) error {
	for _, r := range plan.Ranges() {
		for n := r.Start; n <= r.End; n++ {
			if n <= last {
				continue
			}
			p := Progress{BlockNum: n, State: FailedFatal, Stage: StageCheckpoint, Err: fmt.Errorf("archive unreadable: %w", cause)}
			if err := w.report(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}
