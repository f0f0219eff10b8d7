package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestEngineMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.PagesWrittenCounter.Add(ctx, 4)
	m.PagesWrittenCounter.Add(ctx, 2)
	m.CommitLatencyHistogram.Record(ctx, 12)
	m.CachedPagesGauge.Record(ctx, 99)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		got[m.Name] = m.Data
	}

	written, ok := got["gojolite.disk.pages_written_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.EqualValues(t, 6, written.DataPoints[0].Value)

	latency, ok := got["gojolite.transaction.commit_duration"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.EqualValues(t, 1, latency.DataPoints[0].Count)

	cached, ok := got["gojolite.cache.pages"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.EqualValues(t, 99, cached.DataPoints[0].Value)
}

func TestOrNoop(t *testing.T) {
	m := OrNoop(nil)
	require.NotNil(t, m)
	m.CommitsCounter.Add(context.Background(), 1)

	same := NoopEngineMetrics()
	require.Same(t, same, OrNoop(same))
}
