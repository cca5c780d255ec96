package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/internal/fetch"
	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/internal/steem"
	"github.com/steemit/sbds/pkg/config"
	"github.com/steemit/sbds/pkg/logging"
)

const outcomeBuffer = 256

// Fetcher produces exactly one outcome per requested block number unless
// ctx ends first.
type Fetcher interface {
	Run(ctx context.Context, nums []int64, out chan<- fetch.Outcome) error
}

// Sink persists normalized blocks.
type Sink interface {
	Store(ctx context.Context, res *normalizer.Result) (db.Report, error)
}

// Resources are what one worker owns exclusively.
type Resources struct {
	Fetcher Fetcher
	Sink    Sink
	// StoreConcurrency bounds concurrent block writes; defaults to 1.
	StoreConcurrency int
	closers          []func()
}

// OnClose registers a release function, run in reverse order by Close.
func (r *Resources) OnClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close releases everything the worker opened.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Opener builds the resources of one worker.
type Opener func(ctx context.Context, worker int) (*Resources, error)

// NewOpener opens a dedicated database pool and node client per worker.
func NewOpener(cfg *config.Config, registry *operations.Registry) Opener {
	return func(ctx context.Context, worker int) (*Resources, error) {
		logger := logging.WithWorker("indexer", worker)
		res := &Resources{StoreConcurrency: cfg.Database.MaxOpenConns}

		database, err := db.New(ctx, &cfg.Database, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		res.OnClose(func() {
			if err := database.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		})

		node, err := steem.New(&cfg.Steem, cfg.Indexer.MaxInFlight)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.OnClose(node.Close)

		norm := normalizer.New(registry, logger)
		res.Fetcher = fetch.New(node, norm, fetch.Options{
			BatchSize:   cfg.Indexer.BatchSize,
			MaxInFlight: cfg.Indexer.MaxInFlight,
		}, logger)
		res.Sink = db.NewWriter(database, logger)
		return res, nil
	}
}

// worker drives one partition through fetch, normalize and store.
type worker struct {
	id       int
	res      *Resources
	progress chan<- Progress
	logger   *zap.Logger
}

func (w *worker) run(ctx context.Context, nums []int64) error {
	w.logger.Info("Worker started",
		zap.Int("blocks", len(nums)),
		zap.Int64("first", nums[0]),
		zap.Int64("last", nums[len(nums)-1]))

	outcomes := make(chan fetch.Outcome, outcomeBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(outcomes)
		return w.res.Fetcher.Run(gctx, nums, outcomes)
	})
	g.Go(func() error {
		stores := new(errgroup.Group)
		limit := w.res.StoreConcurrency
		if limit <= 0 {
			limit = 1
		}
		stores.SetLimit(limit)
		for o := range outcomes {
			o := o
			stores.Go(func() error {
				return w.report(gctx, w.handle(gctx, o))
			})
		}
		return stores.Wait()
	})

	err := g.Wait()
	w.logger.Info("Worker finished", zap.Error(err))
	return err
}

func (w *worker) handle(ctx context.Context, o fetch.Outcome) Progress {
	p := Progress{Worker: w.id, BlockNum: o.BlockNum}
	tr := NewBlockTracker(o.BlockNum)

	if err := trackFetch(tr, o); err != nil {
		return w.broken(p, err)
	}
	if o.Err != nil {
		p.State, p.Stage, p.Err = tr.State(), o.Stage, o.Err
		return p
	}
	return w.store(ctx, w.res.Sink, tr, o.Result, p)
}

func (w *worker) store(ctx context.Context, sink Sink, tr *BlockTracker, res *normalizer.Result, p Progress) Progress {
	report, err := sink.Store(ctx, res)
	p.Backfilled = report.Backfilled
	if terr := trackStore(tr, report, err); terr != nil {
		return w.broken(p, terr)
	}
	p.State = tr.State()
	if err != nil {
		p.Stage, p.Err = StageStore, err
		var se *db.StoreError
		if errors.As(err, &se) {
			w.logger.Error("Block store failed", se.Fields()...)
		} else {
			w.logger.Error("Block store failed", zap.Int64("block_num", p.BlockNum), zap.Error(err))
		}
		return p
	}
	p.SkippedOps = res.Skipped
	return p
}

// broken reports a block whose lifecycle could not be followed.
func (w *worker) broken(p Progress, err error) Progress {
	w.logger.Error("Block lifecycle error", zap.Int64("block_num", p.BlockNum), zap.Error(err))
	p.State, p.Err = FailedFatal, err
	if p.Stage == "" {
		p.Stage = StageStore
	}
	return p
}

func (w *worker) report(ctx context.Context, p Progress) error {
	select {
	case w.progress <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func steps(fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func retry(tr *BlockTracker, cause Cause) func() error {
	return func() error { return tr.Retry(cause) }
}

// trackFetch replays a pipeline outcome on the tracker, leaving it in
// Persisting or FailedFatal.
func trackFetch(tr *BlockTracker, o fetch.Outcome) error {
	fns := []func() error{tr.Fetch}
	if o.Retried {
		fns = append(fns, retry(tr, CauseTransport), tr.Fetch)
	}
	switch {
	case o.Err == nil:
		if o.Result == nil {
			return fmt.Errorf("block %d: outcome without result", o.BlockNum)
		}
		fns = append(fns, tr.Normalize, tr.Persist)
	case o.Stage == fetch.StageNormalize:
		fns = append(fns, tr.Normalize, tr.Fail)
	default:
		fns = append(fns, tr.Fail)
	}
	return steps(fns...)
}

// trackStore replays a write on a tracker in Persisting.
func trackStore(tr *BlockTracker, report db.Report, err error) error {
	var fns []func() error
	if report.Backfilled {
		fns = append(fns, retry(tr, CauseAccountBackfill), tr.Persist)
	}
	if err != nil {
		fns = append(fns, tr.Fail)
	} else {
		fns = append(fns, tr.Store)
	}
	return steps(fns...)
}
