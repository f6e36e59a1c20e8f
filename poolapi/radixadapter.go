package poolapi

import (
	"context"
	"sync"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/redistopo/sentinelmgr/addr"
)

// replicaState tracks one replica endpoint's pool and freeze bookkeeping.
type replicaState struct {
	client       radix.Client
	declaredHost string
	frozen       bool
	reason       FreezeReason
}

// RadixAdapter is a concrete Adapter backed by github.com/mediocregopher/radix/v4
// client pools: one Client for the master, one per replica, created lazily
// via a ClientFunc; a replaced master client is closed on ChangeMaster, and
// every client is closed on Shutdown. It is the
// out-of-scope "per-node connection pool" collaborator the core calls
// through the Adapter interface, made concrete so this module is testable
// end to end without a full Redis client stack.
type RadixAdapter struct {
	cfn radix.ClientFunc
	log *logrus.Entry

	mu       sync.RWMutex
	master   radix.Client
	masterURI addr.URI
	replicas map[addr.URI]*replicaState
	gate     *Gate
}

// NewRadixAdapter builds an Adapter that dials pools with cfn. If cfn is
// nil, radix.DefaultClientFunc is used.
func NewRadixAdapter(cfn radix.ClientFunc, log *logrus.Entry) *RadixAdapter {
	if cfn == nil {
		cfn = radix.DefaultClientFunc
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RadixAdapter{
		cfn:      cfn,
		log:      log.WithField("component", "pool-adapter"),
		replicas: make(map[addr.URI]*replicaState),
		gate:     NewGate(),
	}
}

// ChangeMaster implements Adapter.
func (a *RadixAdapter) ChangeMaster(ctx context.Context, name string, newURI addr.URI) (OldClient, error) {
	newClient, err := a.cfn(ctx, newURI.Network(), newURI.HostPort())
	if err != nil {
		return nil, errors.Wrapf(err, "pool-adapter: dial new master %s", newURI)
	}

	a.mu.Lock()
	old := a.master
	oldURI := a.masterURI
	a.master = newClient
	a.masterURI = newURI
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"name": name, "old": oldURI.String(), "new": newURI.String()}).
		Info("master changed")

	if old != nil {
		if cerr := old.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("closing previous master client")
		}
	}
	return old, nil
}

// AddReplica implements Adapter.
func (a *RadixAdapter) AddReplica(ctx context.Context, uri addr.URI, declaredHost string) error {
	a.mu.Lock()
	if _, ok := a.replicas[uri]; ok {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	client, err := a.cfn(ctx, uri.Network(), uri.HostPort())
	if err != nil {
		return errors.Wrapf(err, "pool-adapter: dial replica %s", uri)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.replicas[uri]; ok {
		// lost a race against a concurrent AddReplica for the same URI.
		_ = client.Close()
		return nil
	}
	a.replicas[uri] = &replicaState{client: client, declaredHost: declaredHost, frozen: true, reason: Manager}
	a.log.WithField("replica", uri.String()).Info("replica added")
	return nil
}

// HasReplica implements Adapter.
func (a *RadixAdapter) HasReplica(uri addr.URI) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.replicas[uri]
	return ok
}

// ReplicaDown implements Adapter.
func (a *RadixAdapter) ReplicaDown(ctx context.Context, uri addr.URI, reason FreezeReason) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.replicas[uri]
	if !ok {
		return false, nil
	}
	if st.frozen && st.reason == reason {
		return false, nil
	}
	st.frozen = true
	st.reason = reason
	a.log.WithField("replica", uri.String()).Warn("replica down")
	return true, nil
}

// ReplicaUp implements Adapter.
func (a *RadixAdapter) ReplicaUp(ctx context.Context, uri addr.URI, reason FreezeReason) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.replicas[uri]
	if !ok {
		return false, nil
	}
	if !st.frozen {
		return false, nil
	}
	st.frozen = false
	st.reason = reason
	a.log.WithField("replica", uri.String()).Info("replica up")
	return true, nil
}

// IsReplicaUnfrozen implements Adapter.
func (a *RadixAdapter) IsReplicaUnfrozen(uri addr.URI) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.replicas[uri]
	return ok && !st.frozen
}

// AllReplicaEndpoints implements Adapter.
func (a *RadixAdapter) AllReplicaEndpoints() []addr.URI {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]addr.URI, 0, len(a.replicas))
	for uri := range a.replicas {
		out = append(out, uri)
	}
	return out
}

// ShutdownGate implements Adapter.
func (a *RadixAdapter) ShutdownGate() *Gate {
	return a.gate
}

// Shutdown implements Adapter.
func (a *RadixAdapter) Shutdown(ctx context.Context) error {
	a.gate.Close()

	a.mu.Lock()
	master := a.master
	replicas := a.replicas
	a.master = nil
	a.replicas = make(map[addr.URI]*replicaState)
	a.mu.Unlock()

	var firstErr error
	if master != nil {
		if err := master.Close(); err != nil {
			firstErr = err
		}
	}
	for uri, st := range replicas {
		if err := st.client.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "pool-adapter: closing replica %s", uri)
		}
	}
	return firstErr
}
