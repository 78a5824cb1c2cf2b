package monitor

import "sync"

// RunKind labels what currently holds the orchestration slot.
type RunKind string

// Orchestration run kinds.
const (
	RunCheck    RunKind = "check"
	RunBackfill RunKind = "backfill"
)

// Guard is the process-wide single-slot exclusion between incremental
// checks and backfills. The browser is never driven by both at once: a
// check arriving mid-backfill is rejected, not queued. Checking for a
// running backfill and taking the slot are one atomic operation.
type Guard struct {
	mu       sync.Mutex
	active   bool
	kind     RunKind
	targetID int64
}

// TryBegin claims the slot. It never blocks; false means something else is
// already running.
func (g *Guard) TryBegin(kind RunKind, targetID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return false
	}
	g.active = true
	g.kind = kind
	g.targetID = targetID
	return true
}

// End releases the slot. Calling End without a matching TryBegin is a noop.
func (g *Guard) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.kind = ""
	g.targetID = 0
}

// Current reports the occupying run, if any.
func (g *Guard) Current() (kind RunKind, targetID int64, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.kind, g.targetID, g.active
}
