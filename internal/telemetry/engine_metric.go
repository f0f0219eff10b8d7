package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EngineMetrics holds all the metric instruments of one open data file.
type EngineMetrics struct {
	PagesReadCounter       metric.Int64Counter
	PagesWrittenCounter    metric.Int64Counter
	CommitsCounter         metric.Int64Counter
	RollbacksCounter       metric.Int64Counter
	JournalReplaysCounter  metric.Int64Counter
	LockWaitsCounter       metric.Int64Counter
	CommitLatencyHistogram metric.Int64Histogram
	CachedPagesGauge       metric.Int64Gauge
}

// NewEngineMetrics creates and registers all the metrics for the storage engine.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	pagesRead, err := meter.Int64Counter(
		"gojolite.disk.pages_read_total",
		metric.WithDescription("Total number of pages read from the data file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesWritten, err := meter.Int64Counter(
		"gojolite.disk.pages_written_total",
		metric.WithDescription("Total number of pages written to the data file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter(
		"gojolite.transaction.commits_total",
		metric.WithDescription("Total number of write transactions committed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rollbacks, err := meter.Int64Counter(
		"gojolite.transaction.rollbacks_total",
		metric.WithDescription("Total number of transactions rolled back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	replays, err := meter.Int64Counter(
		"gojolite.journal.replayed_pages_total",
		metric.WithDescription("Total number of page images restored from a journal on open."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	lockWaits, err := meter.Int64Counter(
		"gojolite.disk.lock_waits_total",
		metric.WithDescription("Number of times a writer had to wait for another process' lock."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commitLatency, err := meter.Int64Histogram(
		"gojolite.transaction.commit_duration",
		metric.WithDescription("The latency of persisting a transaction."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cachedPages, err := meter.Int64Gauge(
		"gojolite.cache.pages",
		metric.WithDescription("Pages held by the page cache after the last checkpoint."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		PagesReadCounter:       pagesRead,
		PagesWrittenCounter:    pagesWritten,
		CommitsCounter:         commits,
		RollbacksCounter:       rollbacks,
		JournalReplaysCounter:  replays,
		LockWaitsCounter:       lockWaits,
		CommitLatencyHistogram: commitLatency,
		CachedPagesGauge:       cachedPages,
	}, nil
}

// NoopEngineMetrics returns instruments that record nothing.
func NoopEngineMetrics() *EngineMetrics {
	m, err := NewEngineMetrics(noop.NewMeterProvider().Meter("gojolite"))
	if err != nil {
		// The noop meter never fails.
		panic(err)
	}
	return m
}

// OrNoop returns m, or a no-op set when m is nil.
func OrNoop(m *EngineMetrics) *EngineMetrics {
	if m == nil {
		return NoopEngineMetrics()
	}
	return m
}
