package sentinelmgr

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/poolapi"
)

// fakeAdapter is an in-memory poolapi.Adapter used by every test in this
// package that needs to observe what the manager committed, without dialing
// a real connection pool.
type fakeAdapter struct {
	mu                sync.Mutex
	master            addr.URI
	changeMasterCalls int
	failChangeMaster  bool
	replicas          map[addr.URI]bool // true = unfrozen
	gate              *poolapi.Gate
	shutdownCalls     int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{replicas: make(map[addr.URI]bool), gate: poolapi.NewGate()}
}

func (a *fakeAdapter) ChangeMaster(ctx context.Context, name string, newURI addr.URI) (poolapi.OldClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failChangeMaster {
		return nil, errors.New("fakeadapter: ChangeMaster rejected")
	}
	old := a.master
	a.master = newURI
	a.changeMasterCalls++
	return old, nil
}

func (a *fakeAdapter) AddReplica(ctx context.Context, uri addr.URI, declaredHost string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.replicas[uri]; !ok {
		a.replicas[uri] = false
	}
	return nil
}

func (a *fakeAdapter) HasReplica(uri addr.URI) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.replicas[uri]
	return ok
}

func (a *fakeAdapter) ReplicaDown(ctx context.Context, uri addr.URI, reason poolapi.FreezeReason) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	was, ok := a.replicas[uri]
	if !ok {
		return false, nil
	}
	a.replicas[uri] = false
	return was, nil
}

func (a *fakeAdapter) ReplicaUp(ctx context.Context, uri addr.URI, reason poolapi.FreezeReason) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	was, ok := a.replicas[uri]
	if !ok {
		return false, nil
	}
	a.replicas[uri] = true
	return !was, nil
}

func (a *fakeAdapter) IsReplicaUnfrozen(uri addr.URI) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replicas[uri]
}

func (a *fakeAdapter) AllReplicaEndpoints() []addr.URI {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]addr.URI, 0, len(a.replicas))
	for uri := range a.replicas {
		out = append(out, uri)
	}
	return out
}

func (a *fakeAdapter) ShutdownGate() *poolapi.Gate { return a.gate }

func (a *fakeAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.shutdownCalls++
	a.mu.Unlock()
	return nil
}

var _ poolapi.Adapter = (*fakeAdapter)(nil)
