package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admirito/mongowatch/pkg/mongowatch/queue"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// fakeClock lets tests advance queue time explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFinalReleasesImmediately(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	require.NoError(t, q.Put(ctx, "op-1", map[string]any{"Operation": "find"}, false, 0))
	require.NoError(t, q.Put(ctx, "op-1", map[string]any{"Count": int64(3)}, true, 0))

	snap, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "op-1", snap.ID)
	assert.Equal(t, record.OutcomeFinal, snap.Outcome)
	assert.Equal(t, 2, snap.Iteration)
	assert.Equal(t, "find", snap.Fields["Operation"])
	assert.Equal(t, int64(3), snap.Fields["Count"])
}

func TestTimeoutRelease(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{DefaultTimeout: time.Minute, Now: clock.Now})

	require.NoError(t, q.Put(ctx, "op-1", map[string]any{"Operation": "insert"}, false, 0))

	// Not yet eligible.
	_, err := q.Get(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	clock.Advance(time.Minute)

	snap, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeTimeout, snap.Outcome)
	assert.False(t, snap.Final)
}

// TestUpdateResetsDeadline verifies that each accepted non-final update
// pushes the record's deadline forward.
func TestUpdateResetsDeadline(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{DefaultTimeout: time.Minute, Now: clock.Now})

	require.NoError(t, q.Put(ctx, "op-1", nil, false, 0))
	clock.Advance(50 * time.Second)
	require.NoError(t, q.Put(ctx, "op-1", map[string]any{"Count": int64(1)}, false, 0))
	clock.Advance(50 * time.Second)

	// 100s since the first Put but only 50s since the update.
	_, err := q.Get(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	clock.Advance(10 * time.Second)
	snap, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeTimeout, snap.Outcome)
}

// TestDeadlineOrdering verifies entries release in deadline order even
// when that inverts insertion order.
func TestDeadlineOrdering(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{DefaultTimeout: time.Minute, Now: clock.Now})

	require.NoError(t, q.Put(ctx, "slow", nil, false, 10*time.Minute))
	require.NoError(t, q.Put(ctx, "fast", nil, false, time.Minute))

	clock.Advance(10 * time.Minute)

	first, err := q.Get(ctx, 0)
	require.NoError(t, err)
	second, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "fast", first.ID)
	assert.Equal(t, "slow", second.ID)
}

// TestTieBreakInsertionOrder verifies that equal deadlines release in
// insertion order, and that merging does not change an entry's
// insertion rank.
func TestTieBreakInsertionOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{DefaultTimeout: time.Minute, Now: clock.Now})

	require.NoError(t, q.Put(ctx, "a", nil, false, time.Minute))
	require.NoError(t, q.Put(ctx, "b", nil, false, time.Minute))
	require.NoError(t, q.Put(ctx, "c", nil, false, time.Minute))

	// Merging "a" keeps its insertion rank: same deadline, same order.
	require.NoError(t, q.Put(ctx, "a", map[string]any{"Count": int64(1)}, false, time.Minute))

	clock.Advance(2 * time.Minute)

	var ids []string
	for range 3 {
		snap, err := q.Get(ctx, 0)
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestForcedDelay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{
		DefaultTimeout: time.Minute,
		ForcedDelay:    5 * time.Second,
		Now:            clock.Now,
	})

	require.NoError(t, q.Put(ctx, "op-1", nil, true, 0))

	_, err := q.Get(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	clock.Advance(5 * time.Second)
	snap, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeFinal, snap.Outcome)
}

func TestLateUpdateRejected(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := queue.New(queue.Options{
		DefaultTimeout: time.Minute,
		ForcedDelay:    time.Minute,
		Now:            clock.Now,
	})

	require.NoError(t, q.Put(ctx, "op-1", map[string]any{"Count": int64(1)}, true, 0))

	err := q.Put(ctx, "op-1", map[string]any{"Count": int64(99)}, false, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrLateUpdate)

	var lateErr *queue.LateUpdateError
	require.ErrorAs(t, err, &lateErr)
	assert.Equal(t, "op-1", lateErr.ID)

	// The record is untouched by the rejected update.
	clock.Advance(time.Minute)
	snap, err := q.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Fields["Count"])
	assert.Equal(t, 1, snap.Iteration)
}

func TestGetBlocksUntilFinalize(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	require.NoError(t, q.Put(ctx, "op-1", nil, false, 0))

	done := make(chan record.Snapshot, 1)
	go func() {
		snap, err := q.Get(ctx, 5*time.Second)
		if err == nil {
			done <- snap
		}
	}()

	// Let the consumer block on the far deadline, then finalize.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Put(ctx, "op-1", nil, true, 0))

	select {
	case snap := <-done:
		assert.Equal(t, record.OutcomeFinal, snap.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not wake up on finalization")
	}
}

func TestGetMaxWaitExpires(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	start := time.Now()
	_, err := q.Get(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGetContextCancel(t *testing.T) {
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.Get(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNoDuplicateDelivery verifies each record reaches exactly one of
// several concurrent consumers.
func TestNoDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(ctx, record.NewID(), nil, true, 0))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap, err := q.Get(ctx, 100*time.Millisecond)
				if err != nil {
					return
				}
				mu.Lock()
				seen[snap.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s delivered %d times", id, count)
	}
}

func TestDrainFlushesEverything(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	require.NoError(t, q.Put(ctx, "a", nil, false, 0))
	require.NoError(t, q.Put(ctx, "b", nil, false, 0))
	require.NoError(t, q.Drain(ctx))

	// Both records come out flushed despite their far deadlines.
	for range 2 {
		snap, err := q.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, record.OutcomeFlushed, snap.Outcome)
	}

	// Drained and empty: the error matches both ErrEmpty and ErrClosed.
	_, err := q.Get(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)
	assert.ErrorIs(t, err, queue.ErrClosed)

	// Further puts are rejected; drain stays idempotent.
	assert.ErrorIs(t, q.Put(ctx, "c", nil, false, 0), queue.ErrClosed)
	assert.NoError(t, q.Drain(ctx))
}

func TestDrainWakesBlockedGet(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	errs := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx, time.Minute)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Drain(ctx))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not wake up on drain")
	}
}

func TestMaxSize(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour, MaxSize: 2})

	require.NoError(t, q.Put(ctx, "a", nil, false, 0))
	require.NoError(t, q.Put(ctx, "b", nil, false, 0))
	assert.ErrorIs(t, q.Put(ctx, "c", nil, false, 0), queue.ErrFull)

	// Updates to live records still pass at the limit.
	assert.NoError(t, q.Put(ctx, "a", map[string]any{"Count": int64(1)}, false, 0))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestSize(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	require.NoError(t, q.Put(ctx, "a", nil, false, 0))
	require.NoError(t, q.Put(ctx, "a", nil, false, 0))
	require.NoError(t, q.Put(ctx, "b", nil, false, 0))

	size, err = q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestErrorsDistinguishable(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.Options{DefaultTimeout: time.Hour})

	// Idle-empty matches only ErrEmpty.
	_, err := q.Get(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)
	assert.False(t, errors.Is(err, queue.ErrClosed))
}
