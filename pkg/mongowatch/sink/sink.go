// Package sink delivers released watch snapshots to their final
// destinations: structured logs, CSV audit files, or a SQLite table.
package sink

import (
	"context"
	"log/slog"

	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// Sink receives released snapshots from the delivery pipeline.
type Sink interface {
	Write(ctx context.Context, snap record.Snapshot) error
	Close() error
}

// SlogSink emits each snapshot as one structured log record.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
	keys   []string
}

// SlogOption configures a SlogSink.
type SlogOption func(*SlogSink)

// WithLevel sets the level snapshots log at. Defaults to Info.
func WithLevel(level slog.Level) SlogOption {
	return func(s *SlogSink) {
		s.level = level
	}
}

// WithShortView restricts logged fields to the named keys.
func WithShortView(keys ...string) SlogOption {
	return func(s *SlogSink) {
		s.keys = keys
	}
}

// NewSlogSink logs snapshots through the given logger; a nil logger
// uses slog.Default.
func NewSlogSink(logger *slog.Logger, opts ...SlogOption) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SlogSink{logger: logger, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlogSink) Write(ctx context.Context, snap record.Snapshot) error {
	view := snap.FullView()
	if s.keys != nil {
		view = snap.ShortView(s.keys)
	}
	s.logger.Log(ctx, s.level, "watch event",
		slog.String("watch_id", snap.ID),
		slog.Int("iteration", snap.Iteration),
		slog.String("outcome", string(snap.Outcome)),
		slog.String("fields", view),
	)
	return nil
}

func (s *SlogSink) Close() error {
	return nil
}
