// Package queue implements the aggregation/delay queue at the core of
// mongowatch. The queue accepts repeated partial updates for the same
// operation ID, merges them into a single record, and releases exactly
// one terminal snapshot per operation in deadline order.
//
// The pending set is an indexed min-heap keyed by (deadline, insertion
// sequence) with an ID index for O(log n) in-place deadline updates.
// Get blocks with wakeup-on-change semantics: a waiting caller sleeps
// until the earliest deadline, until a Put changes the minimum, or
// until its own wait bound expires, whichever comes first.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/admirito/mongowatch/pkg/mongowatch/observability"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// Interface is the queue contract shared by the owner queue and the
// remote stub. Callers never need to know which side of a process
// boundary they are on.
type Interface interface {
	// Put inserts or merges an update for the given operation ID.
	// A zero timeout falls back to the queue's default. Put never
	// blocks beyond brief mutual exclusion.
	Put(ctx context.Context, id string, fields map[string]any, final bool, timeout time.Duration) error

	// Get returns the pending entry with the smallest deadline once
	// that deadline has passed, waiting up to maxWait for one to become
	// eligible. A non-positive maxWait checks once without waiting.
	// Returns ErrEmpty when nothing became available; after a drain the
	// error also matches ErrClosed.
	Get(ctx context.Context, maxWait time.Duration) (record.Snapshot, error)

	// Size reports the number of pending entries.
	Size(ctx context.Context) (int, error)

	// Drain closes the queue: it wakes every blocked Get caller, makes
	// all remaining entries immediately eligible with Outcome FLUSHED,
	// and rejects further Put calls.
	Drain(ctx context.Context) error
}

// Options configures a Queue. The zero value is usable.
type Options struct {
	// DefaultTimeout applies to Put calls with a zero timeout.
	// Default: 10 minutes.
	DefaultTimeout time.Duration

	// ForcedDelay is a uniform extra wait applied to finalized records
	// before release, trading latency for completeness.
	// Default: 0 (release finalized records immediately).
	ForcedDelay time.Duration

	// MaxSize limits the pending set; a first Put beyond the limit
	// returns ErrFull. Default: 0 (unbounded).
	MaxSize int

	// Now overrides the clock, for tests. Default: time.Now.
	Now func() time.Time

	// Logger receives debug/warn logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records queue activity. Nil disables metrics.
	Metrics observability.MetricsRecorder

	// Spans traces queue operations. Nil disables tracing.
	Spans observability.SpanManager
}

// DefaultOptions provides the defaults used for unset Options fields.
var DefaultOptions = Options{
	DefaultTimeout: 10 * time.Minute,
}

// Queue is the in-process aggregation queue. It is safe for concurrent
// use from any number of producers and consumers; the heap and the ID
// index are the only shared mutable state and live under one mutex.
type Queue struct {
	opts    Options
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu     sync.Mutex
	heap   entryHeap
	byID   map[string]*entry
	seq    uint64
	closed bool

	// wake is closed and re-armed whenever the pending set changes, so
	// waiting Get callers can select on it alongside their timers.
	wake chan struct{}
}

var _ Interface = (*Queue)(nil)

// New creates a queue with the given options.
func New(opts Options) *Queue {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultOptions.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := opts.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}
	return &Queue{
		opts:    opts,
		metrics: metrics,
		spans:   spans,
		byID:    make(map[string]*entry),
		wake:    make(chan struct{}),
	}
}

// Put inserts a new entry or merges into an existing one.
//
// For a new ID the deadline is now+timeout (now+ForcedDelay when the
// first update is already final). For a live ID the update merges
// last-write-wins, bumps the iteration, and recomputes the deadline.
// A Put for a finalized ID is rejected with a LateUpdateError and the
// record is left untouched.
func (q *Queue) Put(ctx context.Context, id string, fields map[string]any, final bool, timeout time.Duration) error {
	ctx, span := q.spans.StartPutSpan(ctx, id, final)
	err := q.put(ctx, id, fields, final, timeout)
	q.spans.EndSpanWithError(span, err)
	return err
}

func (q *Queue) put(ctx context.Context, id string, fields map[string]any, final bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = q.opts.DefaultTimeout
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	now := q.opts.Now()

	if e, ok := q.byID[id]; ok {
		if e.rec.Final {
			iteration := e.rec.Iteration
			q.mu.Unlock()
			q.metrics.RecordLateUpdate(ctx)
			observability.LogLateUpdate(q.opts.Logger, id)
			return &LateUpdateError{ID: id, Iteration: iteration}
		}

		e.rec.Merge(fields)
		if final {
			e.rec.Final = true
			e.rec.Deadline = now.Add(q.opts.ForcedDelay)
		} else {
			e.rec.Deadline = now.Add(timeout)
		}
		heap.Fix(&q.heap, e.index)
		iteration := e.rec.Iteration
		q.notifyLocked()
		q.mu.Unlock()

		q.metrics.RecordPut(ctx, final)
		observability.LogPut(q.opts.Logger, id, iteration, final)
		return nil
	}

	if q.opts.MaxSize > 0 && len(q.heap) >= q.opts.MaxSize {
		q.mu.Unlock()
		return ErrFull
	}

	rec := record.New(id, fields, now)
	if final {
		rec.Final = true
		rec.Deadline = now.Add(q.opts.ForcedDelay)
	} else {
		rec.Deadline = now.Add(timeout)
	}

	q.seq++
	e := &entry{rec: rec, seq: q.seq}
	heap.Push(&q.heap, e)
	q.byID[id] = e
	q.notifyLocked()
	q.mu.Unlock()

	q.metrics.RecordPut(ctx, final)
	q.metrics.RecordDepth(ctx, 1)
	observability.LogPut(q.opts.Logger, id, 1, final)
	return nil
}

// Get blocks until the entry with the smallest deadline becomes
// eligible, then removes and returns it as a snapshot. The outcome is
// FINAL when release was triggered by finalization, TIMEOUT when the
// deadline expired, and FLUSHED after a drain. Each logical record is
// returned to exactly one caller.
func (q *Queue) Get(ctx context.Context, maxWait time.Duration) (record.Snapshot, error) {
	ctx, span := q.spans.StartGetSpan(ctx)
	snap, err := q.get(ctx, maxWait)
	q.spans.EndSpanWithError(span, err)
	return snap, err
}

func (q *Queue) get(ctx context.Context, maxWait time.Duration) (record.Snapshot, error) {
	started := q.opts.Now()
	var limit time.Time
	if maxWait > 0 {
		limit = started.Add(maxWait)
	}

	q.mu.Lock()
	for {
		now := q.opts.Now()

		if len(q.heap) > 0 {
			min := q.heap[0]
			if q.closed || !now.Before(min.rec.Deadline) {
				snap := q.popLocked(min)
				q.mu.Unlock()

				wait := q.opts.Now().Sub(started)
				q.metrics.RecordRelease(ctx, string(snap.Outcome), wait)
				q.metrics.RecordDepth(ctx, -1)
				observability.LogRelease(q.opts.Logger, snap.ID, string(snap.Outcome),
					float64(wait.Milliseconds()))
				return snap, nil
			}
		}

		if q.closed {
			q.mu.Unlock()
			return record.Snapshot{}, errClosedEmpty()
		}

		// Nothing eligible yet: wait for the earliest deadline, a
		// change notification, or the caller's bound.
		sleep := time.Duration(-1)
		if len(q.heap) > 0 {
			sleep = q.heap[0].rec.Deadline.Sub(now)
		}
		if maxWait <= 0 {
			q.mu.Unlock()
			return record.Snapshot{}, ErrEmpty
		}
		remain := limit.Sub(now)
		if remain <= 0 {
			q.mu.Unlock()
			return record.Snapshot{}, ErrEmpty
		}
		if sleep < 0 || remain < sleep {
			sleep = remain
		}

		wake := q.wake
		q.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return record.Snapshot{}, ctx.Err()
		}

		q.mu.Lock()
		// Re-check the true minimum under the lock: another Get may
		// have taken the entry we were woken for.
	}
}

// popLocked removes an entry and builds its release snapshot.
func (q *Queue) popLocked(e *entry) record.Snapshot {
	heap.Remove(&q.heap, e.index)
	delete(q.byID, e.rec.ID)

	outcome := record.OutcomeTimeout
	switch {
	case q.closed:
		outcome = record.OutcomeFlushed
	case e.rec.Final:
		outcome = record.OutcomeFinal
	}
	return e.rec.Snapshot(outcome, e.seq)
}

// Size reports the number of pending entries.
func (q *Queue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap), nil
}

// Drain closes the queue. Every remaining entry becomes immediately
// eligible with Outcome FLUSHED, all blocked Get callers wake up, and
// subsequent Put calls fail with ErrClosed. Drain is idempotent.
func (q *Queue) Drain(ctx context.Context) error {
	ctx, span := q.spans.StartDrainSpan(ctx)
	defer q.spans.EndSpanWithError(span, nil)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := len(q.heap)
	q.notifyLocked()
	q.mu.Unlock()

	observability.LogDrain(q.opts.Logger, pending)
	return nil
}

// Close is Drain under the name io.Closer-style callers expect.
func (q *Queue) Close() error {
	return q.Drain(context.Background())
}

// notifyLocked wakes every waiting Get caller and re-arms the channel.
// Callers must hold q.mu.
func (q *Queue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// errClosedEmpty builds the error for Get on a drained, empty queue:
// it reads as "no record available" but also matches ErrClosed so
// consumers can tell a drained queue from a momentarily idle one.
func errClosedEmpty() error {
	return closedEmptyError{}
}

type closedEmptyError struct{}

func (closedEmptyError) Error() string { return ErrEmpty.Error() }

func (closedEmptyError) Is(target error) bool {
	return target == ErrEmpty || target == ErrClosed
}
