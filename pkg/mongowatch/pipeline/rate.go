package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/admirito/mongowatch/pkg/mongowatch/expr"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// RateStage aggregates numeric fields over fixed intervals. A record
// carrying any tracked attribute is absorbed into the running sums and
// suppressed; once per interval the stage emits one summary snapshot
// carrying the sum, per-second rate and count of each tracked
// attribute. Records without tracked attributes pass through
// unchanged. With ignoreIntermediates set, records that neither
// finalized nor timed out are dropped before aggregation, so repeated
// partial updates of one operation do not inflate the sums.
type RateStage struct {
	mu                  sync.Mutex
	interval            time.Duration
	attrs               []string
	ignoreIntermediates bool
	now                 func() time.Time

	windowStart time.Time
	sums        map[string]float64
	counts      map[string]int
}

// RateOption configures a RateStage.
type RateOption func(*RateStage)

// IgnoreIntermediates drops records with a non-terminal outcome.
func IgnoreIntermediates() RateOption {
	return func(s *RateStage) {
		s.ignoreIntermediates = true
	}
}

// WithClock overrides the stage clock, for tests.
func WithClock(now func() time.Time) RateOption {
	return func(s *RateStage) {
		s.now = now
	}
}

// NewRateStage sums the named attributes over windows of the given
// interval.
func NewRateStage(interval time.Duration, attrs []string, opts ...RateOption) *RateStage {
	s := &RateStage{
		interval: interval,
		attrs:    attrs,
		now:      time.Now,
		sums:     make(map[string]float64, len(attrs)),
		counts:   make(map[string]int, len(attrs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RateStage) Process(ctx context.Context, snap record.Snapshot) ([]record.Snapshot, error) {
	if s.ignoreIntermediates && !snap.Outcome.Terminal() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.windowStart.IsZero() {
		s.windowStart = now
	}

	tracked := false
	for _, attr := range s.attrs {
		v, ok := snap.Fields[attr]
		if !ok {
			continue
		}
		tracked = true
		s.sums[attr] += expr.ToFloat64(v)
		s.counts[attr]++
	}

	// Absorbed records are suppressed; only their summary comes out.
	var out []record.Snapshot
	if !tracked {
		out = append(out, snap)
	}
	if now.Sub(s.windowStart) >= s.interval {
		out = append(out, s.summaryLocked(now))
	}
	return out, nil
}

// Flush emits the summary for a partially filled window. Called by the
// pipeline when the queue drains.
func (s *RateStage) Flush() []record.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windowStart.IsZero() {
		return nil
	}
	total := 0
	for _, n := range s.counts {
		total += n
	}
	if total == 0 {
		return nil
	}
	return []record.Snapshot{s.summaryLocked(s.now())}
}

// summaryLocked builds the window summary and resets the accumulators.
// Callers must hold s.mu.
func (s *RateStage) summaryLocked(now time.Time) record.Snapshot {
	elapsed := now.Sub(s.windowStart)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	fields := map[string]any{
		"Interval": elapsed.Seconds(),
	}
	for _, attr := range s.attrs {
		sum := s.sums[attr]
		fields[attr+"Sum"] = sum
		fields[attr+"Rate"] = sum / elapsed.Seconds()
		fields[attr+"Count"] = s.counts[attr]
	}

	s.windowStart = now
	s.sums = make(map[string]float64, len(s.attrs))
	s.counts = make(map[string]int, len(s.attrs))

	return record.Snapshot{
		ID:          record.NewID(),
		Outcome:     record.OutcomeFinal,
		Final:       true,
		Fields:      fields,
		ArrivalTime: now,
		Deadline:    now,
	}
}
