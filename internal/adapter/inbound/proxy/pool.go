package proxy

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/policy"
)

const (
	// DefaultMaxConcurrent caps the number of live per-run proxies.
	DefaultMaxConcurrent = 50
	// DefaultIdleTimeout releases a proxy with no traffic for this long.
	DefaultIdleTimeout = 5 * time.Minute
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("proxy pool closed")

type poolEntry struct {
	proxy        *RunProxy
	lastActivity time.Time
	idleTimer    *time.Timer
}

// Pool owns every per-run proxy in the process. A single mutex guards
// acquire, release, eviction, and the idle-timer callbacks.
type Pool struct {
	mu            sync.Mutex
	entries       map[string]*poolEntry
	maxConcurrent int
	idleTimeout   time.Duration
	bus           *event.Bus
	logger        *slog.Logger
	closed        bool
}

// NewPool creates a pool. Zero values fall back to the defaults.
func NewPool(maxConcurrent int, idleTimeout time.Duration, bus *event.Bus, logger *slog.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Pool{
		entries:       make(map[string]*poolEntry),
		maxConcurrent: maxConcurrent,
		idleTimeout:   idleTimeout,
		bus:           bus,
		logger:        logger,
	}
}

// Acquire returns the port of the proxy bound to execID, starting one if
// needed. At most one proxy exists per execID; re-acquiring refreshes its
// idle tracking and returns the existing port. When the pool is full, the
// entry with the oldest lastActivity is evicted first.
func (p *Pool) Acquire(execID, command string, getPolicies func() []policy.Policy, getDefault func() policy.Action) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPoolClosed
	}

	if e, ok := p.entries[execID]; ok {
		p.touchLocked(e)
		return e.proxy.Port(), nil
	}

	if len(p.entries) >= p.maxConcurrent {
		p.evictOldestLocked()
	}

	rp, err := startRunProxy(execID, getPolicies, getDefault, p.bus, p.logger,
		func() { p.touchEntry(execID) })
	if err != nil {
		return 0, err
	}

	e := &poolEntry{
		proxy:        rp,
		lastActivity: time.Now(),
	}
	e.idleTimer = time.AfterFunc(p.idleTimeout, func() { p.Release(execID) })
	p.entries[execID] = e

	p.logger.Debug("run proxy started",
		"exec_id", execID, "command", command, "port", rp.Port(), "pool_size", len(p.entries))
	return rp.Port(), nil
}

// Release closes the proxy for execID and removes it from the pool.
// In-flight requests on accepted connections run to completion.
func (p *Pool) Release(execID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(execID)
}

// Shutdown releases every entry and refuses further acquisitions.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for execID := range p.entries {
		p.releaseLocked(execID)
	}
}

// Size returns the number of live proxies.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) releaseLocked(execID string) {
	e, ok := p.entries[execID]
	if !ok {
		return
	}
	delete(p.entries, execID)
	e.idleTimer.Stop()
	e.proxy.Close()
	p.logger.Debug("run proxy released", "exec_id", execID, "pool_size", len(p.entries))
}

func (p *Pool) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range p.entries {
		if oldestID == "" || e.lastActivity.Before(oldest) {
			oldestID = id
			oldest = e.lastActivity
		}
	}
	if oldestID != "" {
		p.logger.Warn("proxy pool full, evicting oldest", "exec_id", oldestID)
		p.releaseLocked(oldestID)
	}
}

func (p *Pool) touchEntry(execID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[execID]; ok {
		p.touchLocked(e)
	}
}

func (p *Pool) touchLocked(e *poolEntry) {
	e.lastActivity = time.Now()
	e.idleTimer.Reset(p.idleTimeout)
}
