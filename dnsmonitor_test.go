package sentinelmgr

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/poolapi"
	"github.com/redistopo/sentinelmgr/trace"
)

// stepResolver answers ResolveOne/ResolveAll for a fixed set of hosts, whose
// answers a test can change between calls to simulate a DNS record flipping
// underneath a running DNS monitor.
type stepResolver struct {
	mu      sync.Mutex
	answers map[string]addr.URI
}

func newStepResolver() *stepResolver {
	return &stepResolver{answers: make(map[string]addr.URI)}
}

func (r *stepResolver) set(host string, u addr.URI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[host] = u
}

func (r *stepResolver) ResolveOne(_ context.Context, _, host string, _ int) (addr.URI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.answers[host]
	if !ok {
		return addr.URI{}, errors.Errorf("stepResolver: no answer configured for %q", host)
	}
	return u, nil
}

func (r *stepResolver) ResolveAll(ctx context.Context, scheme, host string, port int) ([]addr.URI, error) {
	u, err := r.ResolveOne(ctx, scheme, host, port)
	if err != nil {
		return nil, err
	}
	return []addr.URI{u}, nil
}

func TestDNSCheckMasterSwapsOnRecordChange(t *testing.T) {
	adapter := newFakeAdapter()
	res := newStepResolver()
	oldAddr := addr.New("tcp", "10.0.0.3", 6379)
	newAddr := addr.New("tcp", "10.0.0.4", 6379)
	res.set("master.example.com", oldAddr)

	var fired trace.DNSRebind
	mgr := newTestManager(t, adapter, WithResolver(res), WithTrace(trace.Topology{
		DNSRebind: func(ev trace.DNSRebind) { fired = ev },
	}))

	declared, err := addr.Parse("tcp://master.example.com:6379")
	require.NoError(t, err)
	mgr.masterCell.Set(oldAddr)

	res.set("master.example.com", newAddr)
	mgr.dnsCheckMaster(context.Background(), declared, oldAddr)

	current, ok := mgr.masterCell.Current()
	require.True(t, ok)
	assert.Equal(t, newAddr, current, "spec §8 scenario 1 analog: DNS-driven master swap must commit the newly resolved address")
	assert.Equal(t, 1, adapter.changeMasterCalls)
	assert.True(t, fired.IsMaster)
	assert.Equal(t, oldAddr, fired.Old)
	assert.Equal(t, newAddr, fired.New)

	mgr.dnsMu.Lock()
	assert.Equal(t, newAddr, mgr.masterHosts[declared])
	mgr.dnsMu.Unlock()
}

func TestDNSCheckMasterNoopWhenRecordUnchanged(t *testing.T) {
	adapter := newFakeAdapter()
	res := newStepResolver()
	current := addr.New("tcp", "10.0.0.3", 6379)
	res.set("master.example.com", current)

	mgr := newTestManager(t, adapter, WithResolver(res))
	declared, err := addr.Parse("tcp://master.example.com:6379")
	require.NoError(t, err)
	mgr.masterCell.Set(current)

	mgr.dnsCheckMaster(context.Background(), declared, current)

	assert.Equal(t, 0, adapter.changeMasterCalls, "an unchanged DNS answer must not touch the pool adapter")
}

func TestDNSCheckReplicaRebindsToNewAddressThenFreezesOld(t *testing.T) {
	// Spec §8 scenario 4: replica declared as replica.example.com:6379,
	// initial resolve 10.0.0.3, subsequent resolve 10.0.0.4. Expected:
	// addReplica(10.0.0.4) then replicaDown(10.0.0.3).
	adapter := newFakeAdapter()
	res := newStepResolver()
	oldAddr := addr.New("tcp", "10.0.0.3", 6379)
	newAddr := addr.New("tcp", "10.0.0.4", 6379)
	res.set("replica.example.com", oldAddr)

	require.NoError(t, adapter.AddReplica(context.Background(), oldAddr, "replica.example.com"))
	_, err := adapter.ReplicaUp(context.Background(), oldAddr, poolapi.Manager)
	require.NoError(t, err)

	var fired trace.DNSRebind
	mgr := newTestManager(t, adapter, WithResolver(res), WithTrace(trace.Topology{
		DNSRebind: func(ev trace.DNSRebind) { fired = ev },
	}))
	declared, err := addr.Parse("tcp://replica.example.com:6379")
	require.NoError(t, err)

	res.set("replica.example.com", newAddr)
	mgr.dnsCheckReplica(context.Background(), declared, oldAddr)

	assert.True(t, adapter.HasReplica(newAddr), "addReplica(10.0.0.4) must have been called")
	assert.False(t, adapter.IsReplicaUnfrozen(newAddr), "spec §4.8 only calls addReplica then replicaDown(old); the newly added replica stays frozen until the next reconciliation tick")
	assert.False(t, adapter.IsReplicaUnfrozen(oldAddr), "replicaDown(10.0.0.3) must have frozen the old address")
	assert.False(t, fired.IsMaster)
	assert.Equal(t, oldAddr, fired.Old)
	assert.Equal(t, newAddr, fired.New)

	mgr.dnsMu.Lock()
	assert.Equal(t, newAddr, mgr.replicaHosts[declared])
	mgr.dnsMu.Unlock()
}

func TestDNSCheckReplicaSkipsWhenOldEndpointAlreadyGone(t *testing.T) {
	adapter := newFakeAdapter()
	res := newStepResolver()
	oldAddr := addr.New("tcp", "10.0.0.3", 6379)
	newAddr := addr.New("tcp", "10.0.0.4", 6379)
	res.set("replica.example.com", oldAddr)

	mgr := newTestManager(t, adapter, WithResolver(res))
	declared, err := addr.Parse("tcp://replica.example.com:6379")
	require.NoError(t, err)

	res.set("replica.example.com", newAddr)
	mgr.dnsCheckReplica(context.Background(), declared, oldAddr)

	assert.False(t, adapter.HasReplica(newAddr), "no pool entry was keyed by the old address, so nothing should be added")
}

func TestDNSMonitorMutationsRespectShutdownGate(t *testing.T) {
	adapter := newFakeAdapter()
	res := newStepResolver()
	oldAddr := addr.New("tcp", "10.0.0.3", 6379)
	newAddr := addr.New("tcp", "10.0.0.4", 6379)
	res.set("master.example.com", oldAddr)

	mgr := newTestManager(t, adapter, WithResolver(res))
	declared, err := addr.Parse("tcp://master.example.com:6379")
	require.NoError(t, err)
	mgr.masterCell.Set(oldAddr)

	adapter.ShutdownGate().Close()
	res.set("master.example.com", newAddr)
	mgr.dnsCheckMaster(context.Background(), declared, oldAddr)

	current, ok := mgr.masterCell.Current()
	require.True(t, ok)
	assert.Equal(t, oldAddr, current, "a closed shutdown gate must abort the DNS-driven mutation entirely")
	assert.Equal(t, 0, adapter.changeMasterCalls)
}
