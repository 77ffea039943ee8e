package service

import (
	"sync"
	"time"
)

const (
	// rapidExecWindow is the sliding window for the rapid-exec heuristic.
	rapidExecWindow = time.Second
	// rapidExecLimit is the exec count above which a session is flagged.
	rapidExecLimit = 10
	// sessionIdleLimit prunes sessions with no exec activity for this long.
	sessionIdleLimit = 5 * time.Minute
)

type execChain struct {
	times    []time.Time
	lastSeen time.Time
}

// ExecChainTracker watches per-session exec rates. A session issuing more
// than rapidExecLimit execs inside rapidExecWindow is flagged once per
// crossing; idle sessions are pruned opportunistically on each call.
type ExecChainTracker struct {
	mu       sync.Mutex
	sessions map[string]*execChain
	now      func() time.Time
}

// NewExecChainTracker creates an empty tracker.
func NewExecChainTracker() *ExecChainTracker {
	return &ExecChainTracker{
		sessions: make(map[string]*execChain),
		now:      time.Now,
	}
}

// Track records one exec for a session and reports whether the session
// just exceeded the rapid-exec threshold. An empty session id is ignored.
func (t *ExecChainTracker) Track(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	chain, ok := t.sessions[sessionID]
	if !ok {
		chain = &execChain{}
		t.sessions[sessionID] = chain
	}

	cutoff := now.Add(-rapidExecWindow)
	kept := chain.times[:0]
	for _, ts := range chain.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	chain.times = append(kept, now)
	chain.lastSeen = now

	return len(chain.times) > rapidExecLimit
}

func (t *ExecChainTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-sessionIdleLimit)
	for id, chain := range t.sessions {
		if chain.lastSeen.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}
