package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	starts    int
	stops     int
	created   int
	closed    *atomic.Int32
	startErr  error
	createErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{closed: &atomic.Int32{}}
}

func (e *fakeEngine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.starts++
	return nil
}

func (e *fakeEngine) NewContext(context.Context, AuthState) (EngineContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return nil, e.createErr
	}
	e.created++
	return &fakeContext{closed: e.closed}, nil
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

type fakeContext struct {
	closed *atomic.Int32
	state  AuthState
}

func (c *fakeContext) Context() context.Context { return context.Background() }

func (c *fakeContext) ExportState(context.Context) (AuthState, error) {
	return c.state, nil
}

func (c *fakeContext) Close() error {
	c.closed.Add(1)
	return nil
}

func stateFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[]}`), 0o600))
	return path
}

func TestAcquireStartsEngineOnce(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	key := stateFile(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := pool.Acquire(context.Background(), key)
			require.NoError(t, err)
			require.NotNil(t, sess)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, engine.starts, "double-checked start must launch exactly one engine")
}

func TestRefcountReachesZero(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	key := stateFile(t)
	const n = 10

	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := pool.Acquire(context.Background(), key)
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	stats := pool.Stats()
	require.Equal(t, n, stats.Contexts[key])

	for i := 0; i < n; i++ {
		pool.Release(context.Background(), sessions[i], false)
	}
	stats = pool.Stats()
	require.Empty(t, stats.Contexts, "all contexts for the key should be gone")
	require.Equal(t, int32(engine.created), engine.closed.Load(),
		"every created context must be closed, including racy duplicates")
}

func TestAcquireSharesOneContextPerKey(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	key := stateFile(t)

	a, err := pool.Acquire(context.Background(), key)
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.Same(t, a, b)

	pool.Release(context.Background(), a, false)
	require.Equal(t, int32(0), engine.closed.Load(), "context stays open while referenced")
	pool.Release(context.Background(), b, false)
	require.Equal(t, int32(1), engine.closed.Load())
}

func TestReleasePersistsStateAtZero(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	path := filepath.Join(t.TempDir(), "storage_state.json")

	// Missing state file degrades to empty state, not an error.
	sess, err := pool.Acquire(context.Background(), path)
	require.NoError(t, err)

	sess.ec.(*fakeContext).state = AuthState{Cookies: []Cookie{
		{Name: "ngaPassportUid", Value: "rotated", Domain: ".nga.178.com", Path: "/"},
	}}
	pool.Release(context.Background(), sess, true)

	saved, err := LoadAuthState(path)
	require.NoError(t, err)
	require.Len(t, saved.Cookies, 1)
	require.Equal(t, "rotated", saved.Cookies[0].Value)
}

func TestCorruptStateFileDegrades(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	path := filepath.Join(t.TempDir(), "storage_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	sess, err := pool.Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestEngineStartFailureIsFatal(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.startErr = errors.New("no chrome binary")
	pool := NewPool(engine, nil)

	_, err := pool.Acquire(context.Background(), stateFile(t))
	require.Error(t, err)
	require.ErrorContains(t, err, "start browser engine")
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	key := stateFile(t)

	_, err := pool.Acquire(context.Background(), key)
	require.NoError(t, err)

	pool.Shutdown()
	pool.Shutdown()
	require.Equal(t, 1, engine.stops)
	require.Equal(t, int32(1), engine.closed.Load())
	require.False(t, pool.Stats().Initialized)

	// The pool restarts lazily after shutdown.
	_, err = pool.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 2, engine.starts)
}

func TestReleaseUnknownSessionIsNoop(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	pool := NewPool(engine, nil)
	pool.Release(context.Background(), &Session{key: "ghost", ec: &fakeContext{closed: engine.closed}}, false)
	require.Equal(t, int32(0), engine.closed.Load())
}
