package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic limiter tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSlidingWindowBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("test", Config{
		RequestsPerSecond: 100,
		RequestsPerMinute: 5,
		BurstSize:         100,
	}, clock, nil)

	// Generous bucket, so only the window constrains admission. Walk the
	// clock forward one second per attempt and verify no trailing 60s span
	// ever admits more than five requests.
	var admitted []time.Time
	for i := 0; i < 180; i++ {
		if limiter.TryAcquire() {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(time.Second)
	}
	require.NotEmpty(t, admitted)
	for i := range admitted {
		count := 0
		for j := i; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < 60*time.Second {
				count++
			}
		}
		require.LessOrEqual(t, count, 5, "window starting at %v", admitted[i])
	}
}

func TestTokenBucketBurst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("test", Config{
		RequestsPerSecond: 0.5,
		RequestsPerMinute: 30,
		BurstSize:         2,
	}, clock, nil)

	require.True(t, limiter.TryAcquire())
	require.True(t, limiter.TryAcquire())
	require.False(t, limiter.TryAcquire(), "burst exhausted")

	clock.Advance(2 * time.Second)
	require.True(t, limiter.TryAcquire(), "refill at 0.5 rps grants one token after 2s")
}

func TestWindowRejectionLeavesTokensAlone(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("test", Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 1,
		BurstSize:         5,
	}, clock, nil)

	require.True(t, limiter.TryAcquire())
	before := limiter.Stats().Tokens

	// Window is full now; the failed attempt must not burn a bucket token.
	require.False(t, limiter.TryAcquire())
	require.InDelta(t, before, limiter.Stats().Tokens, 0.01)
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("test", Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 1,
		BurstSize:         1,
	}, clock, nil)
	require.True(t, limiter.TryAcquire())

	done := make(chan bool, 1)
	go func() {
		done <- limiter.Acquire(context.Background(), 250*time.Millisecond)
	}()

	// The deadline is measured against the injected clock; push it past.
	time.Sleep(150 * time.Millisecond)
	clock.Advance(time.Second)

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after deadline")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("test", Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 1,
		BurstSize:         1,
	}, clock, nil)
	require.True(t, limiter.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, limiter.Acquire(ctx, time.Minute))
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := New("webhook", Config{
		RequestsPerSecond: 0.5,
		RequestsPerMinute: 30,
		BurstSize:         2,
	}, clock, nil)

	require.True(t, limiter.TryAcquire())
	stats := limiter.Stats()
	require.Equal(t, "webhook", stats.Name)
	require.Equal(t, 1, stats.RequestsIn60s)
	require.Equal(t, 30, stats.Config.RequestsPerMinute)
}
