package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skyfeed/internal/metrics"
	"github.com/roach88/skyfeed/internal/repo"
	"github.com/roach88/skyfeed/internal/store"
	"github.com/roach88/skyfeed/internal/testutil"
)

const testService = "did:web:feed.test"

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordingHandler records the URI of every created post it is handed.
type recordingHandler struct {
	mu   sync.Mutex
	uris []string
	fn   func(uri string) error
}

func (h *recordingHandler) Handle(_ context.Context, ops repo.Ops) error {
	for _, c := range ops.For(repo.CollectionPost).Created {
		h.mu.Lock()
		h.uris = append(h.uris, c.URI)
		h.mu.Unlock()
		if h.fn != nil {
			if err := h.fn(c.URI); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.uris...)
}

// recordingCheckpoints wraps a Checkpointer and records every write.
type recordingCheckpoints struct {
	Checkpointer

	mu       sync.Mutex
	writes   []int64
	readErrs int
	writeErr error
}

func (c *recordingCheckpoints) GetCursor(ctx context.Context, service string) (int64, bool, error) {
	c.mu.Lock()
	if c.readErrs > 0 {
		c.readErrs--
		c.mu.Unlock()
		return 0, false, errors.New("database is locked")
	}
	c.mu.Unlock()
	return c.Checkpointer.GetCursor(ctx, service)
}

func (c *recordingCheckpoints) UpsertCursor(ctx context.Context, service string, cursor int64) error {
	c.mu.Lock()
	c.writes = append(c.writes, cursor)
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Checkpointer.UpsertCursor(ctx, service, cursor)
}

func (c *recordingCheckpoints) written() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.writes...)
}

type harness struct {
	engine  *Engine
	relay   *testutil.ScriptedRelay
	clock   *testclock.Clock
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	done    chan error
}

func startEngine(t *testing.T, r *testutil.ScriptedRelay, h Handler, cp Checkpointer) *harness {
	t.Helper()
	clk := testutil.NewClock()
	m := metrics.New()
	e := New(testService, r, h, cp,
		WithClock(clk),
		WithMetrics(m),
		WithSessionIDs(NewSequenceGenerator("s1", "s2", "s3")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	hn := &harness{engine: e, relay: r, clock: clk, metrics: m, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hn
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-h.relay.Idle():
	case <-time.After(10 * time.Second):
		t.Fatal("engine never drained the scripted relay")
	}
}

func (h *harness) reconnect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.clock.WaitAdvance(DefaultReconnectDelay, 5*time.Second, 1))
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop after cancel")
		return nil
	}
}

// counter reads a counter without labels from the metrics registry.
func counter(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestEngine_StartsAtHeadWithoutCheckpoint(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay()
	h := startEngine(t, r, &recordingHandler{}, s)

	h.waitIdle(t)
	assert.Equal(t, StateStreaming, h.engine.State())

	cursors := r.Cursors()
	require.Len(t, cursors, 1)
	assert.Nil(t, cursors[0])

	assert.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, StateStopped, h.engine.State())
}

func TestEngine_ResumesFromCheckpoint(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertCursor(context.Background(), testService, 4000))

	r := testutil.NewScriptedRelay()
	h := startEngine(t, r, &recordingHandler{}, s)
	h.waitIdle(t)

	cursors := r.Cursors()
	require.Len(t, cursors, 1)
	require.NotNil(t, cursors[0])
	assert.Equal(t, int64(4000), *cursors[0])
}

func TestEngine_CheckpointsEveryInterval(t *testing.T) {
	s := setupTestStore(t)
	cp := &recordingCheckpoints{Checkpointer: s}

	commits := make([]*repo.CommitEvent, 0, 2500)
	for seq := int64(1); seq <= 2500; seq++ {
		commits = append(commits, testutil.EmptyCommit(seq))
	}
	r := testutil.NewScriptedRelay(testutil.Session{Commits: commits})
	handler := &recordingHandler{}
	h := startEngine(t, r, handler, cp)
	h.waitIdle(t)

	assert.Equal(t, []int64{1000, 2000}, cp.written())
	assert.Equal(t, float64(2), counter(t, h.metrics, "skyfeed_checkpoints_total"))
	assert.Equal(t, float64(2500), counter(t, h.metrics, "skyfeed_commits_seen_total"))
	assert.Equal(t, float64(2500), counter(t, h.metrics, "skyfeed_commits_skipped_total"))
	assert.Empty(t, handler.seen(), "commits without blocks never reach the handler")

	cursor, ok, err := s.GetCursor(context.Background(), testService)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), cursor)
}

func TestEngine_ReconnectsFromLastCheckpoint(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(
		testutil.Session{
			Commits: []*repo.CommitEvent{
				testutil.EmptyCommit(999),
				testutil.EmptyCommit(1000),
				testutil.PostCommit(1001, "a", "after checkpoint"),
			},
			Err: io.ErrUnexpectedEOF,
		},
	)
	handler := &recordingHandler{}
	h := startEngine(t, r, handler, s)

	h.reconnect(t)
	h.waitIdle(t)

	cursors := r.Cursors()
	require.Len(t, cursors, 2)
	assert.Nil(t, cursors[0])
	require.NotNil(t, cursors[1])
	assert.Equal(t, int64(1000), *cursors[1])

	assert.Equal(t, []string{testutil.PostURI("a")}, handler.seen())
	assert.Equal(t, float64(1), counter(t, h.metrics, "skyfeed_reconnects_total"))
	assert.Equal(t, StateStreaming, h.engine.State())
}

func TestEngine_DialFailureRetries(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(
		testutil.Session{DialErr: errors.New("connection refused")},
		testutil.Session{DialErr: errors.New("connection refused")},
	)
	h := startEngine(t, r, &recordingHandler{}, s)

	h.reconnect(t)
	h.reconnect(t)
	h.waitIdle(t)

	assert.Len(t, r.Cursors(), 3)
	assert.Equal(t, float64(2), counter(t, h.metrics, "skyfeed_reconnects_total"))
}

func TestEngine_RelayErrorFrameReconnects(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(
		testutil.Session{Err: errors.New("relay error: ConsumerTooSlow")},
	)
	h := startEngine(t, r, &recordingHandler{}, s)

	h.reconnect(t)
	h.waitIdle(t)
	assert.Len(t, r.Cursors(), 2)
}

func TestEngine_HandlerFailuresDoNotStopStream(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(testutil.Session{Commits: []*repo.CommitEvent{
		testutil.PostCommit(1, "ok1", "one"),
		testutil.PostCommit(2, "fail", "two"),
		testutil.PostCommit(3, "panic", "three"),
		testutil.PostCommit(4, "ok2", "four"),
	}})
	handler := &recordingHandler{fn: func(uri string) error {
		switch uri {
		case testutil.PostURI("fail"):
			return errors.New("disk full")
		case testutil.PostURI("panic"):
			panic("nil record")
		}
		return nil
	}}
	h := startEngine(t, r, handler, s)
	h.waitIdle(t)

	assert.Equal(t, []string{
		testutil.PostURI("ok1"),
		testutil.PostURI("fail"),
		testutil.PostURI("panic"),
		testutil.PostURI("ok2"),
	}, handler.seen())
	assert.Equal(t, float64(2), counter(t, h.metrics, "skyfeed_commit_errors_total"))
	assert.Len(t, r.Cursors(), 1, "commit failures must not reconnect")
}

func TestEngine_UndecodableCommitDoesNotReconnect(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(testutil.Session{Commits: []*repo.CommitEvent{
		nil,
		testutil.PostCommit(2, "good", "after the bad one"),
	}})
	handler := &recordingHandler{}
	h := startEngine(t, r, handler, s)
	h.waitIdle(t)

	assert.Equal(t, []string{testutil.PostURI("good")}, handler.seen())
	assert.Len(t, r.Cursors(), 1, "an undecodable commit must not reconnect")
	assert.Equal(t, float64(1), counter(t, h.metrics, "skyfeed_commit_errors_total"))
	assert.Equal(t, float64(2), counter(t, h.metrics, "skyfeed_commits_seen_total"))
	assert.Equal(t, float64(0), counter(t, h.metrics, "skyfeed_reconnects_total"))
	assert.Equal(t, StateStreaming, h.engine.State())
}

func TestEngine_CheckpointWriteFailureKeepsMemoryCursor(t *testing.T) {
	s := setupTestStore(t)
	cp := &recordingCheckpoints{Checkpointer: s, writeErr: errors.New("readonly database")}
	r := testutil.NewScriptedRelay(testutil.Session{
		Commits: []*repo.CommitEvent{testutil.EmptyCommit(1000)},
		Err:     io.EOF,
	})
	h := startEngine(t, r, &recordingHandler{}, cp)

	h.reconnect(t)
	h.waitIdle(t)

	cursors := r.Cursors()
	require.Len(t, cursors, 2)
	require.NotNil(t, cursors[1])
	assert.Equal(t, int64(1000), *cursors[1])
	assert.Equal(t, float64(0), counter(t, h.metrics, "skyfeed_checkpoints_total"))

	_, ok, err := s.GetCursor(context.Background(), testService)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_CheckpointReadRetries(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertCursor(context.Background(), testService, 3000))
	cp := &recordingCheckpoints{Checkpointer: s, readErrs: 1}

	r := testutil.NewScriptedRelay()
	h := startEngine(t, r, &recordingHandler{}, cp)

	h.reconnect(t)
	h.waitIdle(t)

	cursors := r.Cursors()
	require.Len(t, cursors, 1)
	require.NotNil(t, cursors[0])
	assert.Equal(t, int64(3000), *cursors[0])
}

func TestEngine_CancelDuringReconnectWait(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewScriptedRelay(testutil.Session{Err: io.EOF})
	h := startEngine(t, r, &recordingHandler{}, s)

	select {
	case <-h.clock.Alarms():
	case <-time.After(10 * time.Second):
		t.Fatal("engine never started waiting to reconnect")
	}
	assert.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Len(t, r.Cursors(), 1)
}

func TestSequenceGenerator_RepeatsLast(t *testing.T) {
	g := NewSequenceGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Equal(t, "b", g.Generate())

	assert.Equal(t, "session", NewSequenceGenerator().Generate())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestCommitError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&CommitError{Code: ErrCodeHandlerFailed, Seq: 9, Repo: "did:plc:x", Err: cause})

	assert.Equal(t, "HANDLER_FAILED: seq=9 repo=did:plc:x: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPanicError(err))
	assert.True(t, IsPanicError(&CommitError{Code: ErrCodePanic, Err: cause}))
	assert.False(t, IsPanicError(cause))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
