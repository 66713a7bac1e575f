package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordPut does nothing.
func (NoopMetrics) RecordPut(_ context.Context, _ bool) {}

// RecordRelease does nothing.
func (NoopMetrics) RecordRelease(_ context.Context, _ string, _ time.Duration) {}

// RecordLateUpdate does nothing.
func (NoopMetrics) RecordLateUpdate(_ context.Context) {}

// RecordDepth does nothing.
func (NoopMetrics) RecordDepth(_ context.Context, _ int64) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartPutSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPutSpan(ctx context.Context, _ string, _ bool) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartGetSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartGetSpan(ctx context.Context) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartDrainSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDrainSpan(ctx context.Context) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
