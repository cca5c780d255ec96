package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	blocksStored     metric.Int64Counter
	blocksFailed     metric.Int64Counter
	opsSkipped       metric.Int64Counter
	batchesFailed    metric.Int64Counter
	accountBackfills metric.Int64Counter
	batchDuration    metric.Float64Histogram
}

var (
	instMu sync.RWMutex
	inst   *instruments
)

func initInstruments() error {
	meter := otel.Meter(instrumentationName)

	var (
		i   instruments
		err error
	)
	if i.blocksStored, err = meter.Int64Counter("sbds.blocks.stored",
		metric.WithDescription("Blocks persisted, including idempotent replays.")); err != nil {
		return fmt.Errorf("create blocks stored counter: %w", err)
	}
	if i.blocksFailed, err = meter.Int64Counter("sbds.blocks.failed",
		metric.WithDescription("Blocks reported failed, by stage.")); err != nil {
		return fmt.Errorf("create blocks failed counter: %w", err)
	}
	if i.opsSkipped, err = meter.Int64Counter("sbds.operations.skipped",
		metric.WithDescription("Operations skipped because their kind is not registered.")); err != nil {
		return fmt.Errorf("create operations skipped counter: %w", err)
	}
	if i.batchesFailed, err = meter.Int64Counter("sbds.batches.failed",
		metric.WithDescription("Fetch batches that failed after retry.")); err != nil {
		return fmt.Errorf("create batches failed counter: %w", err)
	}
	if i.accountBackfills, err = meter.Int64Counter("sbds.accounts.backfills",
		metric.WithDescription("Account backfills triggered by foreign key violations.")); err != nil {
		return fmt.Errorf("create account backfills counter: %w", err)
	}
	if i.batchDuration, err = meter.Float64Histogram("sbds.batch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of one fetch batch round trip.")); err != nil {
		return fmt.Errorf("create batch duration histogram: %w", err)
	}

	instMu.Lock()
	inst = &i
	instMu.Unlock()
	return nil
}

func current() *instruments {
	instMu.RLock()
	defer instMu.RUnlock()
	return inst
}

// BlockStored counts one persisted block.
func BlockStored(ctx context.Context) {
	if i := current(); i != nil {
		i.blocksStored.Add(ctx, 1)
	}
}

// BlockFailed counts one reported block failure at the given stage.
func BlockFailed(ctx context.Context, stage string) {
	if i := current(); i != nil {
		i.blocksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// OperationsSkipped counts skipped operations.
func OperationsSkipped(ctx context.Context, n int) {
	if i := current(); i != nil && n > 0 {
		i.opsSkipped.Add(ctx, int64(n))
	}
}

// AccountBackfill counts one account backfill.
func AccountBackfill(ctx context.Context) {
	if i := current(); i != nil {
		i.accountBackfills.Add(ctx, 1)
	}
}

// ObserveBatch records a fetch batch outcome and duration.
func ObserveBatch(ctx context.Context, err error, started time.Time) {
	i := current()
	if i == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		i.batchesFailed.Add(ctx, 1)
	}
	i.batchDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}
