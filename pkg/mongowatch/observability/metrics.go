// Package observability provides structured logging helpers, OTel
// metrics and OTel tracing for the watch queue and pipeline. Everything
// is opt-in; no-op implementations are available for every interface.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records queue activity.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPut records an accepted Put, distinguishing finalizing updates.
	RecordPut(ctx context.Context, final bool)

	// RecordRelease records a released record with its outcome and how
	// long the Get caller waited for it.
	RecordRelease(ctx context.Context, outcome string, wait time.Duration)

	// RecordLateUpdate records a rejected Put against a finalized record.
	RecordLateUpdate(ctx context.Context)

	// RecordDepth adjusts the pending-entry gauge by delta.
	RecordDepth(ctx context.Context, delta int64)
}

type otelMetrics struct {
	puts        metric.Int64Counter
	releases    metric.Int64Counter
	lateUpdates metric.Int64Counter
	depth       metric.Int64UpDownCounter
	getWait     metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("mongowatch")

	puts, err := meter.Int64Counter("mongowatch.queue.puts",
		metric.WithDescription("Number of accepted Put calls"),
	)
	if err != nil {
		return nil, err
	}

	releases, err := meter.Int64Counter("mongowatch.queue.releases",
		metric.WithDescription("Number of released records by outcome"),
	)
	if err != nil {
		return nil, err
	}

	lateUpdates, err := meter.Int64Counter("mongowatch.queue.late_updates",
		metric.WithDescription("Number of Put calls rejected after finalization"),
	)
	if err != nil {
		return nil, err
	}

	depth, err := meter.Int64UpDownCounter("mongowatch.queue.depth",
		metric.WithDescription("Number of pending entries in the queue"),
	)
	if err != nil {
		return nil, err
	}

	getWait, err := meter.Float64Histogram("mongowatch.queue.get_wait_ms",
		metric.WithDescription("Time Get callers spent waiting for a release"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		puts:        puts,
		releases:    releases,
		lateUpdates: lateUpdates,
		depth:       depth,
		getWait:     getWait,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by OpenTelemetry.
// If instrument creation fails it falls back to a no-op recorder.
//
// The recorder uses the global OTel meter provider; configure the
// provider before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPut records an accepted Put.
func (m *otelMetrics) RecordPut(ctx context.Context, final bool) {
	m.puts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordRelease records a released record.
func (m *otelMetrics) RecordRelease(ctx context.Context, outcome string, wait time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.releases.Add(ctx, 1, attrs)
	m.getWait.Record(ctx, float64(wait.Milliseconds()), attrs)
}

// RecordLateUpdate records a rejected late update.
func (m *otelMetrics) RecordLateUpdate(ctx context.Context) {
	m.lateUpdates.Add(ctx, 1)
}

// RecordDepth adjusts the pending-entry gauge.
func (m *otelMetrics) RecordDepth(ctx context.Context, delta int64) {
	m.depth.Add(ctx, delta)
}
