package poolapi

import "sync"

// Gate is the cooperative shutdown barrier every mutation of master or
// replica membership must acquire first (spec §3, §5 "Cancellation").
// Acquire after Close returns false; in-flight ticks observe this and abort
// without mutating anything.
type Gate struct {
	mu     sync.Mutex
	closed bool
	inUse  int
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Acquire reports whether the gate is still open. If true, the caller must
// call Release exactly once when done mutating state.
func (g *Gate) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inUse++
	return true
}

// Release signals the end of one mutation started by a successful Acquire.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inUse > 0 {
		g.inUse--
	}
}

// Close marks the gate permanently closed; every subsequent Acquire returns
// false. Close does not wait for in-flight holders to Release — callers
// that need that guarantee should poll InUse or rely on the adapter's own
// shutdown sequencing.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// InUse reports the number of outstanding, un-released Acquire calls.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}
