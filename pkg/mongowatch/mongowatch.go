// Package mongowatch audits MongoDB client operations. Updates about
// in-flight operations land in an aggregation queue that merges
// repeated reports of the same operation; records leave the queue when
// they finalize, time out or get flushed, and a delivery pipeline
// filters, transforms and aggregates them on the way to the sinks.
//
// One process may own the queue for a whole deployment: with a remote
// listen address configured the owner serves it over HTTP, and every
// other process transparently proxies to it.
package mongowatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/admirito/mongowatch/pkg/mongowatch/config"
	"github.com/admirito/mongowatch/pkg/mongowatch/expr"
	"github.com/admirito/mongowatch/pkg/mongowatch/observability"
	"github.com/admirito/mongowatch/pkg/mongowatch/pipeline"
	"github.com/admirito/mongowatch/pkg/mongowatch/queue"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
	"github.com/admirito/mongowatch/pkg/mongowatch/remote"
	"github.com/admirito/mongowatch/pkg/mongowatch/sink"
	"github.com/admirito/mongowatch/pkg/mongowatch/transform"
)

// Watcher ties the queue, the optional remote layer and the delivery
// pipeline together behind one handle. Build it with New, feed it with
// Put, and drive delivery with Run.
type Watcher struct {
	cfg      config.WatchConfig
	queue    queue.Interface
	local    *queue.Queue
	server   *remote.Server
	sinks    []sink.Sink
	registry *transform.Registry
	logger   *slog.Logger

	runOnce sync.Once
	started atomic.Bool
	done    chan struct{}
	runErr  error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for the watcher and everything it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithSinks sets the delivery sinks. Without this option released
// records go to a structured-log sink.
func WithSinks(sinks ...sink.Sink) Option {
	return func(w *Watcher) {
		w.sinks = sinks
	}
}

// WithTransformRegistry replaces the builtin transform registry, so
// applications can register their own named transforms.
func WithTransformRegistry(registry *transform.Registry) Option {
	return func(w *Watcher) {
		w.registry = registry
	}
}

// New builds a Watcher from the parsed configuration. A process
// becomes the queue owner when the remote layer is enabled with a
// listen address; with only a URL it proxies every queue operation to
// the owner. With the remote layer disabled the queue is local to the
// process.
func New(cfg config.WatchConfig, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: transform.NewRegistry(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sinks == nil {
		w.sinks = []sink.Sink{sink.NewSlogSink(w.logger)}
	}

	if cfg.Remote.Enabled && cfg.Remote.Listen == "" {
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("remote layer enabled without listen address or owner url")
		}
		w.queue = remote.NewClient(remote.ClientConfig{
			URL:           cfg.Remote.URL,
			MaxServerWait: cfg.Remote.MaxServerWait,
			Logger:        w.logger,
		})
		return w, nil
	}

	w.local = queue.New(queue.Options{
		DefaultTimeout: cfg.Queue.DefaultTimeout,
		ForcedDelay:    cfg.Queue.ForcedDelay,
		MaxSize:        cfg.Queue.MaxSize,
		Logger:         w.logger,
		Metrics:        observability.NewMetricsRecorder(),
		Spans:          observability.NewSpanManager(),
	})
	w.queue = w.local

	if cfg.Remote.Enabled {
		w.server = remote.NewServer(remote.ServerConfig{
			Queue:   w.local,
			Logger:  w.logger,
			MaxWait: cfg.Remote.MaxServerWait,
		})
	}
	return w, nil
}

// Queue exposes the underlying queue interface, local or proxied.
func (w *Watcher) Queue() queue.Interface {
	return w.queue
}

// Owner reports whether this process holds the authoritative queue.
func (w *Watcher) Owner() bool {
	return w.local != nil
}

// Put reports one update about an operation. The category selects a
// field template and timeout from the configuration; template fields
// apply under the caller's fields, so explicit values always win. An
// empty category uses the queue defaults.
func (w *Watcher) Put(ctx context.Context, category, id string, fields map[string]any, final bool) error {
	timeout := time.Duration(0)
	if cat, ok := w.cfg.Categories[category]; ok {
		timeout = cat.Timeout
		if len(cat.Fields) > 0 {
			merged := make(map[string]any, len(cat.Fields)+len(fields))
			for k, v := range cat.Fields {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			fields = merged
		}
	}
	return w.queue.Put(ctx, id, fields, final, timeout)
}

// Run serves the remote layer when this process owns it, then consumes
// the queue through the delivery pipeline until the queue drains or
// ctx is canceled. It blocks; run it from a dedicated goroutine when
// the caller has other work.
func (w *Watcher) Run(ctx context.Context) error {
	w.started.Store(true)
	w.runOnce.Do(func() {
		defer close(w.done)

		if w.server != nil {
			go func() {
				if err := w.server.Run(w.cfg.Remote.Listen); err != nil {
					w.logger.Error("remote server stopped", slog.String("error", err.Error()))
				}
			}()
		}

		stages, err := w.buildStages()
		if err != nil {
			w.runErr = err
			return
		}
		p := pipeline.New(pipeline.Options{
			Queue:   w.queue,
			Stages:  stages,
			Sinks:   w.sinks,
			MaxWait: w.cfg.Pipeline.MaxWait,
			Logger:  w.logger,
		})
		w.runErr = p.Run(ctx)
	})
	<-w.done
	return w.runErr
}

// buildStages assembles the configured pipeline stages in their fixed
// order: predicate, transforms, rate aggregation.
func (w *Watcher) buildStages() ([]pipeline.Stage, error) {
	var stages []pipeline.Stage
	if w.cfg.Pipeline.Predicate != "" {
		stage, err := pipeline.NewPredicateStage(w.cfg.Pipeline.Predicate)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if len(w.cfg.Pipeline.Transforms) > 0 {
		stage, err := pipeline.NewTransformStage(w.registry, w.cfg.Pipeline.Transforms)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if w.cfg.Pipeline.RateInterval > 0 {
		var opts []pipeline.RateOption
		if w.cfg.Pipeline.IgnoreIntermediates {
			opts = append(opts, pipeline.IgnoreIntermediates())
		}
		stages = append(stages, pipeline.NewRateStage(
			w.cfg.Pipeline.RateInterval, w.cfg.Pipeline.RateAttributes, opts...))
	}
	return stages, nil
}

// Flush cancels every live record so it leaves the queue immediately.
// The queue keeps accepting no further updates afterwards.
func (w *Watcher) Flush(ctx context.Context) error {
	return w.queue.Drain(ctx)
}

// Close drains the queue, waits for the pipeline to finish delivering
// (bounded by ctx) and closes every sink.
func (w *Watcher) Close(ctx context.Context) error {
	err := w.queue.Drain(ctx)

	if w.started.Load() {
		select {
		case <-w.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	for _, s := range w.sinks {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Eval evaluates a predicate expression against a released snapshot,
// with the same variables the pipeline's predicate stage sees.
func Eval(predicate string, snap record.Snapshot) (bool, error) {
	vars := make(map[string]any, len(snap.Fields)+4)
	for k, v := range snap.Fields {
		vars[k] = v
	}
	vars["WatchID"] = snap.ID
	vars["Iteration"] = snap.Iteration
	vars["Outcome"] = string(snap.Outcome)
	vars["Final"] = snap.Final
	return expr.Eval(predicate, vars)
}
