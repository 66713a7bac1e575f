// Package pipeline drives released snapshots from a queue through a
// chain of stages and out to sinks. A stage may drop a snapshot,
// rewrite it, or emit extra ones; sink failures are logged and never
// stall the loop.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/admirito/mongowatch/pkg/mongowatch/observability"
	"github.com/admirito/mongowatch/pkg/mongowatch/queue"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
	"github.com/admirito/mongowatch/pkg/mongowatch/sink"
)

// Stage processes one snapshot. Returning an empty slice drops it; a
// stage may return several snapshots to emit extra records. A stage
// error drops the snapshot and is logged by the pipeline.
type Stage interface {
	Process(ctx context.Context, snap record.Snapshot) ([]record.Snapshot, error)
}

// Flusher is implemented by stages holding pending output, such as an
// open rate window. The pipeline flushes them when the queue drains.
type Flusher interface {
	Flush() []record.Snapshot
}

// Options configures a Pipeline.
type Options struct {
	Queue  queue.Interface
	Stages []Stage
	Sinks  []sink.Sink
	// MaxWait bounds each blocking fetch from the queue. Zero means
	// one second.
	MaxWait time.Duration
	Logger  *slog.Logger
}

// Pipeline consumes a queue until it drains.
type Pipeline struct {
	queue   queue.Interface
	stages  []Stage
	sinks   []sink.Sink
	maxWait time.Duration
	logger  *slog.Logger
}

// New builds a pipeline over opts.Queue.
func New(opts Options) *Pipeline {
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		queue:   opts.Queue,
		stages:  opts.Stages,
		sinks:   opts.Sinks,
		maxWait: maxWait,
		logger:  observability.EnrichLogger(logger, "pipeline"),
	}
}

// Run consumes the queue until it reports closed or ctx is canceled.
// On a clean drain every flushable stage is flushed before Run
// returns, so pending aggregates reach the sinks.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		snap, err := p.queue.Get(ctx, p.maxWait)
		switch {
		case err == nil:
			p.dispatch(ctx, snap)
		case errors.Is(err, queue.ErrClosed):
			p.flush(ctx)
			return nil
		case errors.Is(err, queue.ErrEmpty):
			// Idle; keep polling.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// dispatch runs one snapshot through the stages and delivers whatever
// survives to every sink.
func (p *Pipeline) dispatch(ctx context.Context, snap record.Snapshot) {
	batch := []record.Snapshot{snap}
	for _, stage := range p.stages {
		next := make([]record.Snapshot, 0, len(batch))
		for _, s := range batch {
			out, err := stage.Process(ctx, s)
			if err != nil {
				p.logger.Warn("stage rejected record",
					slog.String("watch_id", s.ID),
					slog.String("error", err.Error()))
				continue
			}
			next = append(next, out...)
		}
		batch = next
		if len(batch) == 0 {
			return
		}
	}
	for _, s := range batch {
		p.deliver(ctx, s)
	}
}

// flush drains pending stage output, running each flushed snapshot
// through the remaining stages only.
func (p *Pipeline) flush(ctx context.Context) {
	for i, stage := range p.stages {
		f, ok := stage.(Flusher)
		if !ok {
			continue
		}
		for _, snap := range f.Flush() {
			batch := []record.Snapshot{snap}
			for _, later := range p.stages[i+1:] {
				next := make([]record.Snapshot, 0, len(batch))
				for _, s := range batch {
					out, err := later.Process(ctx, s)
					if err != nil {
						continue
					}
					next = append(next, out...)
				}
				batch = next
			}
			for _, s := range batch {
				p.deliver(ctx, s)
			}
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, snap record.Snapshot) {
	for _, s := range p.sinks {
		if err := s.Write(ctx, snap); err != nil {
			observability.LogSinkError(p.logger, sinkName(s), err)
		}
	}
}

func sinkName(s sink.Sink) string {
	switch s.(type) {
	case *sink.SlogSink:
		return "slog"
	case *sink.CSVSink:
		return "csv"
	case *sink.SQLiteSink:
		return "sqlite"
	}
	return "sink"
}
