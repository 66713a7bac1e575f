package mongowatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admirito/mongowatch/pkg/mongowatch"
	"github.com/admirito/mongowatch/pkg/mongowatch/config"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
	"github.com/admirito/mongowatch/pkg/mongowatch/sink"
)

// memorySink collects delivered snapshots for assertions.
type memorySink struct {
	mu    sync.Mutex
	snaps []record.Snapshot
}

func (s *memorySink) Write(_ context.Context, snap record.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) all() []record.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Snapshot(nil), s.snaps...)
}

func TestWatcherEndToEnd(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
watch:
  queue:
    default_timeout: 10s
  pipeline:
    max_wait: 50ms
    predicate: "exists Operation"
    transforms:
      Filter: [mask]
  categories:
    query:
      timeout: 5s
      fields:
        Operation: find
`))
	require.NoError(t, err)

	capture := &memorySink{}
	watcher, err := mongowatch.New(config.ParseWatch(cfg), mongowatch.WithSinks(capture))
	require.NoError(t, err)
	assert.True(t, watcher.Owner())

	ctx := context.Background()

	// Category template supplies Operation; the caller's value wins on
	// conflict.
	id := record.NewID()
	require.NoError(t, watcher.Put(ctx, "query", id, map[string]any{
		"Collection": "users",
		"Filter":     "secret",
	}, false))
	require.NoError(t, watcher.Put(ctx, "query", id, map[string]any{
		"Count": int64(3),
	}, true))

	// No Operation field and no category: the predicate drops it.
	require.NoError(t, watcher.Put(ctx, "", record.NewID(), map[string]any{
		"Collection": "users",
	}, true))

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, watcher.Flush(ctx))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, watcher.Close(closeCtx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after flush")
	}

	snaps := capture.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, id, snaps[0].ID)
	assert.Equal(t, record.OutcomeFinal, snaps[0].Outcome)
	assert.Equal(t, "find", snaps[0].Fields["Operation"])
	assert.Equal(t, "xxxxxx", snaps[0].Fields["Filter"])
	assert.Equal(t, int64(3), snaps[0].Fields["Count"])
}

func TestWatcherCategoryOverride(t *testing.T) {
	cfg := config.DefaultWatchConfig()
	cfg.Pipeline.MaxWait = 50 * time.Millisecond
	cfg.Categories["query"] = config.CategoryConfig{
		Timeout: time.Hour,
		Fields:  map[string]any{"Operation": "find", "Source": "template"},
	}

	capture := &memorySink{}
	watcher, err := mongowatch.New(cfg, mongowatch.WithSinks(capture))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, watcher.Put(ctx, "query", "op-1", map[string]any{
		"Operation": "aggregate",
	}, true))

	snap, err := watcher.Queue().Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "aggregate", snap.Fields["Operation"], "caller value wins over template")
	assert.Equal(t, "template", snap.Fields["Source"])
}

func TestWatcherRemoteRoles(t *testing.T) {
	// Client role without a URL is a configuration error.
	cfg := config.DefaultWatchConfig()
	cfg.Remote.Enabled = true
	_, err := mongowatch.New(cfg)
	assert.Error(t, err)

	// With a URL the watcher proxies instead of owning.
	cfg.Remote.URL = "http://127.0.0.1:1"
	watcher, err := mongowatch.New(cfg)
	require.NoError(t, err)
	assert.False(t, watcher.Owner())
}

func TestWatcherDefaultSink(t *testing.T) {
	watcher, err := mongowatch.New(config.DefaultWatchConfig())
	require.NoError(t, err)
	require.NotNil(t, watcher.Queue())
}

func TestWatcherSQLiteDelivery(t *testing.T) {
	store, err := sink.NewSQLiteSink(":memory:")
	require.NoError(t, err)

	cfg := config.DefaultWatchConfig()
	cfg.Pipeline.MaxWait = 50 * time.Millisecond

	watcher, err := mongowatch.New(cfg, mongowatch.WithSinks(store))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, watcher.Put(ctx, "", "op-1", map[string]any{"Count": int64(1)}, true))

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, watcher.Flush(ctx))
	<-done

	// Count before Close; Close closes the sink.
	n, err := store.Count(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, watcher.Close(closeCtx))
}

func TestEval(t *testing.T) {
	snap := record.Snapshot{
		ID:        "op-1",
		Iteration: 2,
		Final:     true,
		Outcome:   record.OutcomeFinal,
		Fields:    map[string]any{"Count": int64(5)},
	}

	ok, err := mongowatch.Eval("Count > 3 and Outcome == 'FINAL'", snap)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mongowatch.Eval("Iteration > 10", snap)
	require.NoError(t, err)
	assert.False(t, ok)
}
