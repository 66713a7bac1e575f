// Package record defines the event records the aggregation queue works
// with: a mutable-until-finalized Record owned by the queue, and the
// immutable Snapshot handed out to consumers.
//
// A Record collects partial field updates for one logical database
// operation, identified by an opaque operation ID. Each accepted update
// bumps the Iteration counter; once Final is set the record freezes and
// any later update is a late-update anomaly. Consumers never see the
// live record - every release produces a Snapshot annotated with the
// release Outcome.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the reason a record was released from the queue.
type Outcome string

// Release outcomes.
const (
	// OutcomeFinal means the record was explicitly finalized.
	OutcomeFinal Outcome = "FINAL"

	// OutcomeTimeout means the record's deadline expired without a
	// finalizing update.
	OutcomeTimeout Outcome = "TIMEOUT"

	// OutcomeFlushed means the record was released by a queue drain.
	OutcomeFlushed Outcome = "FLUSHED"
)

// Terminal reports whether the outcome represents a completed
// operation rather than a forced flush.
func (o Outcome) Terminal() bool {
	return o == OutcomeFinal || o == OutcomeTimeout
}

// Record is the mutable aggregation state for one operation.
// All mutation happens under the owning queue's lock; a Record must
// never escape the queue except as a Snapshot.
type Record struct {
	// ID binds all updates belonging to one logical operation.
	ID string

	// Iteration counts accepted updates, starting at 1 for the first Put.
	Iteration int

	// Final marks the record immutable. Set once, never cleared.
	Final bool

	// Fields holds the merged attribute map. Updates merge by key with
	// last-write-wins.
	Fields map[string]any

	// ArrivalTime is when the first Put for this ID happened. It is
	// used for rendering only, never for release decisions.
	ArrivalTime time.Time

	// Deadline is the absolute time the record becomes eligible for a
	// timeout release. Recomputed on every accepted non-final update,
	// frozen by the final transition.
	Deadline time.Time
}

// New creates a record for a first Put.
func New(id string, fields map[string]any, arrival time.Time) *Record {
	r := &Record{
		ID:          id,
		Iteration:   1,
		Fields:      make(map[string]any, len(fields)),
		ArrivalTime: arrival,
	}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Merge applies a field update, last-write-wins per key, and bumps the
// iteration counter. The caller must have checked Final first.
func (r *Record) Merge(fields map[string]any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		r.Fields[k] = v
	}
	r.Iteration++
}

// Snapshot produces the immutable view released to consumers. The field
// map is copied so later merges cannot reach a snapshot already handed
// out.
func (r *Record) Snapshot(outcome Outcome, sequence uint64) Snapshot {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Snapshot{
		ID:          r.ID,
		Iteration:   r.Iteration,
		Final:       r.Final,
		Outcome:     outcome,
		Fields:      fields,
		ArrivalTime: r.ArrivalTime,
		Deadline:    r.Deadline,
		Sequence:    sequence,
	}
}

// NewID returns a fresh operation ID for producers that do not carry
// their own correlation key.
func NewID() string {
	return uuid.New().String()
}
