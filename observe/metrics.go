package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache operation metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a cache lookup with its outcome and duration.
	RecordLookup(ctx context.Context, hit bool, duration time.Duration)

	// RecordWrite records a cache write attempt and whether it was admitted.
	RecordWrite(ctx context.Context, cached bool)

	// RecordEviction records entries removed by an eviction pass.
	RecordEviction(ctx context.Context, strategy string, count int64)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	lookupCount  metric.Int64Counter
	writeCount   metric.Int64Counter
	evictCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	lookupCount, err := meter.Int64Counter(
		"querycache.lookups",
		metric.WithDescription("Total number of cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	writeCount, err := meter.Int64Counter(
		"querycache.writes",
		metric.WithDescription("Total number of cache write attempts"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	evictCount, err := meter.Int64Counter(
		"querycache.evictions",
		metric.WithDescription("Total number of entries removed by eviction"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"querycache.lookup.duration_ms",
		metric.WithDescription("Cache lookup duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		lookupCount:  lookupCount,
		writeCount:   writeCount,
		evictCount:   evictCount,
		durationHist: durationHist,
	}, nil
}

// RecordLookup records a cache lookup outcome.
func (m *metricsImpl) RecordLookup(ctx context.Context, hit bool, duration time.Duration) {
	opt := metric.WithAttributes(attribute.Bool("cache.hit", hit))

	m.lookupCount.Add(ctx, 1, opt)
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000.0, opt)
}

// RecordWrite records a cache write attempt.
func (m *metricsImpl) RecordWrite(ctx context.Context, cached bool) {
	m.writeCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cache.admitted", cached)))
}

// RecordEviction records entries removed by an eviction pass.
func (m *metricsImpl) RecordEviction(ctx context.Context, strategy string, count int64) {
	if count <= 0 {
		return
	}
	m.evictCount.Add(ctx, count, metric.WithAttributes(attribute.String("cache.strategy", strategy)))
}

// NopMetrics returns a metrics implementation that does nothing.
func NopMetrics() Metrics {
	return &noopMetrics{}
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordLookup(ctx context.Context, hit bool, duration time.Duration) {}
func (m *noopMetrics) RecordWrite(ctx context.Context, cached bool)                       {}
func (m *noopMetrics) RecordEviction(ctx context.Context, strategy string, count int64)   {}
