package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/steemit/sbds/pkg/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected aggregation %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, initInstruments())

	ctx := context.Background()
	BlockStored(ctx)
	BlockStored(ctx)
	BlockFailed(ctx, "fetch")
	OperationsSkipped(ctx, 3)
	OperationsSkipped(ctx, 0)
	AccountBackfill(ctx)
	ObserveBatch(ctx, nil, time.Now())
	ObserveBatch(ctx, errors.New("timeout"), time.Now())

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, metrics["sbds.blocks.stored"]))
	assert.Equal(t, int64(1), sum(t, metrics["sbds.blocks.failed"]))
	assert.Equal(t, int64(3), sum(t, metrics["sbds.operations.skipped"]))
	assert.Equal(t, int64(1), sum(t, metrics["sbds.accounts.backfills"]))
	assert.Equal(t, int64(1), sum(t, metrics["sbds.batches.failed"]))

	hist, ok := metrics["sbds.batch.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	span.End()
}
