// Package registry holds the topology manager's per-process state: the
// Sentinel node registry, the atomically-swapped master cell, and the
// bootstrap-time disconnected-replica set (spec §3, §4.3).
package registry

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/redistopo/sentinelmgr/addr"
)

// SentinelEntry is the value side of the Sentinel registry: a live client
// handle plus the hostname it was declared under, if any (empty when the
// Sentinel was seeded or discovered by IP literal).
type SentinelEntry struct {
	URI          addr.URI
	DeclaredHost string
	Client       io.Closer
}

// SentinelRegistry is a thread-safe map of post-NAT Sentinel URI to client
// handle. Inserts use compare-and-set semantics so concurrent discovery
// from two different Sentinels cannot create duplicate entries for the same
// URI (spec §3 invariant).
type SentinelRegistry struct {
	mu      sync.RWMutex
	entries map[addr.URI]SentinelEntry
}

// NewSentinelRegistry returns an empty registry.
func NewSentinelRegistry() *SentinelRegistry {
	return &SentinelRegistry{entries: make(map[addr.URI]SentinelEntry)}
}

// TryRegister inserts entry under uri only if no entry is already present.
// The caller must have already PING-verified the client (spec §3
// invariant: "Every URI in the Sentinel-entry map has been PING-acknowledged
// before insertion"). Returns true iff the insert occurred.
func (r *SentinelRegistry) TryRegister(uri addr.URI, entry SentinelEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[uri]; ok {
		return false
	}
	entry.URI = uri
	r.entries[uri] = entry
	return true
}

// Remove deletes and returns the entry at uri, if present. The caller owns
// async-shutting-down the returned client.
func (r *SentinelRegistry) Remove(uri addr.URI) (SentinelEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[uri]
	if ok {
		delete(r.entries, uri)
	}
	return entry, ok
}

// Contains reports whether uri is currently registered.
func (r *SentinelRegistry) Contains(uri addr.URI) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[uri]
	return ok
}

// Snapshot returns a stable copy of the registered entries, used by the
// reconciliation scheduler for shuffled round-robin iteration (spec §4.3).
func (r *SentinelRegistry) Snapshot() []SentinelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SentinelEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

// Len reports the number of registered Sentinels.
func (r *SentinelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MasterCell is the single atomically-updatable slot holding the current
// master URI (spec §3 "Master entry", §4.9 state machine). Transitions are
// compare-and-swap: the caller must present the exact pointer it previously
// observed via Load, so a concurrent winner's update is never silently
// clobbered.
type MasterCell struct {
	p atomic.Pointer[addr.URI]
}

// Load returns the current master URI pointer, or nil if unset.
func (c *MasterCell) Load() *addr.URI {
	return c.p.Load()
}

// Current returns the current master URI by value and whether it is set.
func (c *MasterCell) Current() (addr.URI, bool) {
	p := c.p.Load()
	if p == nil {
		return addr.URI{}, false
	}
	return *p, true
}

// CompareAndSwap swaps the cell from old to newURI iff the cell still holds
// exactly the pointer last returned by Load (or is nil, when old is nil).
// Returns false if someone else won the race; the caller must not mutate
// any other state in that case.
func (c *MasterCell) CompareAndSwap(old *addr.URI, newURI addr.URI) bool {
	return c.p.CompareAndSwap(old, &newURI)
}

// Set unconditionally installs newURI, used only during bootstrap before any
// tick has been armed and concurrent access is impossible.
func (c *MasterCell) Set(newURI addr.URI) {
	c.p.Store(&newURI)
}

// Clear reverts the cell to unset iff it still holds exactly the pointer old.
// Used to undo a CompareAndSwap whose downstream commit (the pool adapter)
// failed, when the cell held no master before that attempt.
func (c *MasterCell) Clear(old *addr.URI) bool {
	return c.p.CompareAndSwap(old, nil)
}

// DisconnectedSet is the bootstrap-time set of replica URIs Sentinel
// reported as down (spec §3 "Disconnected-replicas set"). Bootstrap records
// those replicas here and does not add them to the pool adapter; the
// Manager does not expose the set to callers. It is built
// once during bootstrap and is read-only thereafter (spec §5 "Shared
// resource policy").
type DisconnectedSet struct {
	mu  sync.RWMutex
	set map[addr.URI]struct{}
}

// NewDisconnectedSet returns an empty set.
func NewDisconnectedSet() *DisconnectedSet {
	return &DisconnectedSet{set: make(map[addr.URI]struct{})}
}

// Add marks uri as disconnected.
func (d *DisconnectedSet) Add(uri addr.URI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set[uri] = struct{}{}
}

// Contains reports whether uri was reported down at bootstrap.
func (d *DisconnectedSet) Contains(uri addr.URI) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.set[uri]
	return ok
}
