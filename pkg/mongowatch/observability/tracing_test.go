package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracingTest(t *testing.T) (*tracetest.SpanRecorder, func()) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}
	return recorder, cleanup
}

func TestSpanManager(t *testing.T) {
	recorder, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx := context.Background()

	_, span := sm.StartPutSpan(ctx, "op-1", true)
	sm.EndSpanWithError(span, nil)

	_, span = sm.StartGetSpan(ctx)
	sm.EndSpanWithError(span, errors.New("boom"))

	spanCtx, span := sm.StartDrainSpan(ctx)
	sm.AddSpanEvent(spanCtx, "flushed")
	sm.EndSpanWithError(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "mongowatch.put")
	assert.Contains(t, names, "mongowatch.get")
	assert.Contains(t, names, "mongowatch.drain")
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	// Must not panic and must hand back the caller's context.
	got, span := sm.StartPutSpan(ctx, "op-1", false)
	assert.Equal(t, ctx, got)
	sm.AddSpanEvent(got, "event")
	sm.EndSpanWithError(span, errors.New("ignored"))
}
