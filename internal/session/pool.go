// Package session owns the single automated-browser process and lends out
// reusable browsing contexts keyed by a persisted auth-state file. Contexts
// are reference-counted: the last release optionally persists rotated
// session cookies back to disk before closing.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Engine abstracts the browser process so the pool's lifecycle and refcount
// logic stays testable without a real Chrome install.
type Engine interface {
	// Start launches the browser process. Called at most once per pool
	// lifetime; failure is fatal to the calling operation.
	Start(ctx context.Context) error
	// NewContext creates an isolated browsing context seeded with state.
	NewContext(ctx context.Context, state AuthState) (EngineContext, error)
	// Stop tears the browser process down.
	Stop()
}

// EngineContext is one live browsing context.
type EngineContext interface {
	// Context returns the navigation context the crawler drives pages with.
	Context() context.Context
	// ExportState snapshots the context's current cookies.
	ExportState(ctx context.Context) (AuthState, error)
	// Close destroys the context.
	Close() error
}

// Session is a pooled handle on a browsing context. All concurrent holders
// share the same underlying context.
type Session struct {
	key string
	ec  EngineContext
}

// Context returns the navigation context for page operations.
func (s *Session) Context() context.Context {
	return s.ec.Context()
}

// StateKey returns the auth-state file path this session is bound to.
func (s *Session) StateKey() string {
	return s.key
}

// Stats is an observability snapshot of the pool.
type Stats struct {
	Initialized bool           `json:"initialized"`
	Contexts    map[string]int `json:"contexts"`
}

// Pool manages the engine and its contexts.
type Pool struct {
	engine Engine
	logger *zap.Logger

	startMu sync.Mutex
	started bool

	mu       sync.Mutex
	sessions map[string]*Session
	refs     map[string]int
}

// NewPool creates a Pool. The engine is not started until the first
// Acquire. A nil logger is replaced with a nop logger.
func NewPool(engine Engine, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		engine:   engine,
		logger:   logger,
		sessions: make(map[string]*Session),
		refs:     make(map[string]int),
	}
}

// Acquire returns the shared session for stateKey, creating the engine and
// the context lazily. stateKey is the auth-state file path; a missing or
// corrupt file degrades to an empty state.
func (p *Pool) Acquire(ctx context.Context, stateKey string) (*Session, error) {
	if err := p.ensureStarted(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if sess, ok := p.sessions[stateKey]; ok {
		p.refs[stateKey]++
		p.logger.Debug("reusing browser context",
			zap.String("state_key", stateKey), zap.Int("refs", p.refs[stateKey]))
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	state, err := LoadAuthState(stateKey)
	if err != nil {
		p.logger.Warn("auth state unavailable, starting with empty state", zap.Error(err))
		state = AuthState{}
	}

	// Context creation happens outside the map lock so it never blocks
	// another caller's acquire. If a racing caller created the same context
	// first, ours is discarded in favor of theirs.
	ec, err := p.engine.NewContext(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	p.mu.Lock()
	if existing, ok := p.sessions[stateKey]; ok {
		p.refs[stateKey]++
		p.mu.Unlock()
		if cerr := ec.Close(); cerr != nil {
			p.logger.Warn("close redundant browser context", zap.Error(cerr))
		}
		return existing, nil
	}
	sess := &Session{key: stateKey, ec: ec}
	p.sessions[stateKey] = sess
	p.refs[stateKey] = 1
	p.mu.Unlock()

	p.logger.Info("created browser context", zap.String("state_key", stateKey))
	return sess, nil
}

// Release drops one reference. At zero the context is removed from the pool
// and closed; with persistState set, its current auth state is written back
// to the state file first. Persist and close failures are logged, never
// propagated.
func (p *Pool) Release(ctx context.Context, sess *Session, persistState bool) {
	if sess == nil {
		return
	}
	p.mu.Lock()
	current, ok := p.sessions[sess.key]
	if !ok || current != sess {
		p.mu.Unlock()
		p.logger.Warn("release of unknown browser context", zap.String("state_key", sess.key))
		return
	}
	p.refs[sess.key]--
	remaining := p.refs[sess.key]
	if remaining > 0 {
		p.mu.Unlock()
		p.logger.Debug("released browser context",
			zap.String("state_key", sess.key), zap.Int("refs", remaining))
		return
	}
	delete(p.sessions, sess.key)
	delete(p.refs, sess.key)
	p.mu.Unlock()

	if persistState {
		state, err := sess.ec.ExportState(ctx)
		if err != nil {
			p.logger.Warn("export auth state", zap.Error(err))
		} else if err := SaveAuthState(sess.key, state); err != nil {
			p.logger.Warn("persist auth state", zap.Error(err))
		} else {
			p.logger.Debug("persisted auth state", zap.String("state_key", sess.key))
		}
	}
	if err := sess.ec.Close(); err != nil {
		p.logger.Warn("close browser context", zap.Error(err))
	}
	p.logger.Info("closed browser context", zap.String("state_key", sess.key))
}

// Shutdown force-closes all contexts and the engine. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.refs = make(map[string]int)
	p.mu.Unlock()

	for key, sess := range sessions {
		if err := sess.ec.Close(); err != nil {
			p.logger.Warn("close browser context during shutdown",
				zap.String("state_key", key), zap.Error(err))
		}
	}

	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		p.engine.Stop()
		p.started = false
		p.logger.Info("browser engine stopped")
	}
}

// Stats returns a snapshot of live contexts and their refcounts.
func (p *Pool) Stats() Stats {
	p.startMu.Lock()
	initialized := p.started
	p.startMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	contexts := make(map[string]int, len(p.refs))
	for k, v := range p.refs {
		contexts[k] = v
	}
	return Stats{Initialized: initialized, Contexts: contexts}
}

func (p *Pool) ensureStarted(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return nil
	}
	p.logger.Info("starting browser engine")
	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("start browser engine: %w", err)
	}
	p.started = true
	return nil
}
