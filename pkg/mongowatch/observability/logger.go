package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger tagged with the component name.
// Returns nil for a nil logger so call sites stay nil-tolerant.
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogPut logs an accepted Put at debug level.
func LogPut(logger *slog.Logger, id string, iteration int, final bool) {
	if logger == nil {
		return
	}
	logger.Debug("record update accepted",
		slog.String("watch_id", id),
		slog.Int("iteration", iteration),
		slog.Bool("final", final),
	)
}

// LogLateUpdate logs a Put rejected after finalization.
func LogLateUpdate(logger *slog.Logger, id string) {
	if logger == nil {
		return
	}
	logger.Warn("late update for finalized record",
		slog.String("watch_id", id),
	)
}

// LogRelease logs a released record.
func LogRelease(logger *slog.Logger, id, outcome string, waitMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("record released",
		slog.String("watch_id", id),
		slog.String("outcome", outcome),
		slog.Float64("wait_ms", waitMs),
	)
}

// LogDrain logs a queue drain with the number of entries flushed since.
func LogDrain(logger *slog.Logger, pending int) {
	if logger == nil {
		return
	}
	logger.Info("queue drained",
		slog.Int("pending", pending),
	)
}

// LogSinkError logs a sink write failure (non-fatal for the pipeline).
func LogSinkError(logger *slog.Logger, sink string, err error) {
	if logger == nil {
		return
	}
	logger.Error("sink write failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
}

// Stopwatch measures elapsed time. The returned function reports the
// elapsed milliseconds at each call.
func Stopwatch() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
