package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mongowatch")

// SpanManager handles trace span lifecycle for queue operations.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPutSpan starts a span covering one Put call.
	StartPutSpan(ctx context.Context, id string, final bool) (context.Context, trace.Span)

	// StartGetSpan starts a span covering one Get call, including its wait.
	StartGetSpan(ctx context.Context) (context.Context, trace.Span)

	// StartDrainSpan starts a span covering a queue drain.
	StartDrainSpan(ctx context.Context) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global OTel tracer
// provider. Configure the provider before calling this function.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartPutSpan(ctx context.Context, id string, final bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mongowatch.put",
		trace.WithAttributes(
			attribute.String("watch.id", id),
			attribute.Bool("watch.final", final),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartGetSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mongowatch.get",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartDrainSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mongowatch.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
