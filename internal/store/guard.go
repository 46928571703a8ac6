package store

import "sync"

// SelfWriteGuard lets components that both write configuration and react to
// configuration changes recognize their own writes. A writer records the
// revision it produced; the change watcher asks Suppress before triggering
// a reload. Matching entries are consumed, so a later external edit to the
// same bot is never masked. This replaces a time-based "writing" flag with
// an exact revision fence.
type SelfWriteGuard struct {
	mu      sync.Mutex
	pending map[string]map[int64]struct{}
}

func NewSelfWriteGuard() *SelfWriteGuard {
	return &SelfWriteGuard{pending: make(map[string]map[int64]struct{})}
}

// Record marks a revision of a bot's config as produced by this process.
func (g *SelfWriteGuard) Record(botID string, revision int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	revs, ok := g.pending[botID]
	if !ok {
		revs = make(map[int64]struct{})
		g.pending[botID] = revs
	}
	revs[revision] = struct{}{}
}

// Forget withdraws a recorded revision. Writers record the revision they
// are about to commit and forget it when the commit fails, so an aborted
// write can never mask a later external edit landing on that revision.
func (g *SelfWriteGuard) Forget(botID string, revision int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	revs, ok := g.pending[botID]
	if !ok {
		return
	}
	delete(revs, revision)
	if len(revs) == 0 {
		delete(g.pending, botID)
	}
}

// Suppress reports whether the observed change is a recorded self-write,
// consuming the entry when it matches.
func (g *SelfWriteGuard) Suppress(botID string, revision int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	revs, ok := g.pending[botID]
	if !ok {
		return false
	}
	if _, ok := revs[revision]; !ok {
		return false
	}
	delete(revs, revision)
	if len(revs) == 0 {
		delete(g.pending, botID)
	}
	return true
}
