// Package ratelimit implements dual-dimension admission control for
// outbound calls: an instantaneous token bucket plus a 60-second sliding
// window. Both checks must pass inside one critical section, so a caller can
// never consume a token and then fail the window check.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	window       = 60 * time.Second
	pollInterval = 100 * time.Millisecond
)

// Config holds the limits for one Limiter instance. Separate instances are
// expected per destination (webhook, analysis API) with their own numbers.
type Config struct {
	RequestsPerSecond float64
	RequestsPerMinute int
	BurstSize         int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 1
	}
	return c
}

// Clock supplies the current time; swapped for a fake in tests.
type Clock interface {
	Now() time.Time
}

// Stats is an observability snapshot of one limiter.
type Stats struct {
	Name          string  `json:"name"`
	Tokens        float64 `json:"tokens"`
	RequestsIn60s int     `json:"requests_in_60s"`
	Config        Config  `json:"config"`
}

// Limiter gates requests on both a token bucket and a sliding window.
type Limiter struct {
	name   string
	cfg    Config
	clock  Clock
	logger *zap.Logger

	mu     sync.Mutex
	bucket *rate.Limiter
	sent   []time.Time // admission timestamps inside the trailing window
}

// New creates a Limiter. A nil logger is replaced with a nop logger.
func New(name string, cfg Config, clock Clock, logger *zap.Logger) *Limiter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		name:   name,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Acquire blocks until both admission checks pass, polling at a fixed short
// interval. It returns false once timeout elapses or ctx is canceled; the
// caller must then treat the operation as not sent.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	deadline := l.clock.Now().Add(timeout)
	for {
		if l.TryAcquire() {
			return true
		}
		if timeout > 0 && !l.clock.Now().Before(deadline) {
			l.logger.Warn("rate limit wait timed out", zap.String("limiter", l.name))
			return false
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Warn("rate limit wait canceled", zap.String("limiter", l.name))
			return false
		case <-timer.C:
		}
	}
}

// TryAcquire performs one non-blocking admission attempt. The window check
// runs first because it has no side effect; the bucket only consumes a token
// once the window is known to have room.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.sent) >= l.cfg.RequestsPerMinute {
		return false
	}
	if !l.bucket.AllowN(now, 1) {
		return false
	}
	l.sent = append(l.sent, now)
	l.logger.Debug("request admitted",
		zap.String("limiter", l.name),
		zap.Float64("tokens", l.bucket.TokensAt(now)),
		zap.Int("requests_in_60s", len(l.sent)),
	)
	return true
}

// Stats returns a point-in-time snapshot for the ops surface.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.prune(now)
	return Stats{
		Name:          l.name,
		Tokens:        l.bucket.TokensAt(now),
		RequestsIn60s: len(l.sent),
		Config:        l.cfg,
	}
}

// prune drops admissions that fell out of the trailing window. Timestamps
// are appended in order, so a single scan from the front suffices.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}
