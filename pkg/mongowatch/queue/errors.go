package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by queue operations. The remote stub maps
// wire-level responses back onto the same values so callers cannot tell
// an owner queue from a proxy by its errors.
var (
	// ErrLateUpdate reports a Put against an already finalized record.
	// The record is left unchanged.
	ErrLateUpdate = errors.New("late update for finalized record")

	// ErrClosed reports an operation on a drained queue.
	ErrClosed = errors.New("queue is closed")

	// ErrEmpty reports that no record became available within the
	// caller's wait bound.
	ErrEmpty = errors.New("no record available")

	// ErrFull reports a first Put on a queue at its size limit.
	ErrFull = errors.New("queue is full")
)

// LateUpdateError carries the identity of a rejected late update.
// It matches ErrLateUpdate under errors.Is.
type LateUpdateError struct {
	// ID is the operation whose record was already final.
	ID string

	// Iteration is the iteration the record froze at.
	Iteration int
}

func (e *LateUpdateError) Error() string {
	return fmt.Sprintf("record %s: late update after iteration %d", e.ID, e.Iteration)
}

func (e *LateUpdateError) Unwrap() error {
	return ErrLateUpdate
}
