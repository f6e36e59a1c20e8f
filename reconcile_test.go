package sentinelmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/fakesentinel"
	"github.com/redistopo/sentinelmgr/poolapi"
	"github.com/redistopo/sentinelmgr/sconn"
	"github.com/redistopo/sentinelmgr/trace"
)

func newTestManager(t *testing.T, adapter *fakeAdapter, opts ...ManagerOpt) *Manager {
	t.Helper()
	cfg := Config{
		MasterName:        "mymaster",
		SentinelAddresses: []string{"tcp://127.0.0.1:26379"},
	}
	mgr, err := New(cfg, adapter, opts...)
	require.NoError(t, err)
	return mgr
}

func TestApplyMasterChangeCommitsAndEmitsTrace(t *testing.T) {
	adapter := newFakeAdapter()
	var fired trace.MasterChanged
	mgr := newTestManager(t, adapter, WithTrace(trace.Topology{
		MasterChanged: func(ev trace.MasterChanged) { fired = ev },
	}))

	mgr.applyMasterChange(context.Background(), "tick-1", "10.0.0.5", "6379")

	master, ok := mgr.masterCell.Current()
	require.True(t, ok)
	assert.Equal(t, addr.New("tcp", "10.0.0.5", 6379), master)
	assert.Equal(t, 1, adapter.changeMasterCalls)
	assert.Equal(t, "tick-1", fired.TickID)
	assert.Equal(t, addr.New("tcp", "10.0.0.5", 6379), fired.New)
}

func TestApplyMasterChangeNoopWhenUnchanged(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter)

	mgr.applyMasterChange(context.Background(), "tick-1", "10.0.0.5", "6379")
	mgr.applyMasterChange(context.Background(), "tick-2", "10.0.0.5", "6379")

	assert.Equal(t, 1, adapter.changeMasterCalls, "re-reporting the same master must not re-commit")
}

func TestApplyMasterChangeRevertsOnAdapterFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failChangeMaster = true
	mgr := newTestManager(t, adapter)

	mgr.applyMasterChange(context.Background(), "tick-1", "10.0.0.5", "6379")

	_, ok := mgr.masterCell.Current()
	assert.False(t, ok, "a rejected master change with no prior master must revert to fully unset")
}

func TestApplyReplicaChangeAddsAndFreezesStale(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter)

	stale := addr.New("tcp", "10.0.0.9", 6379)
	require.NoError(t, adapter.AddReplica(context.Background(), stale, ""))
	_, err := adapter.ReplicaUp(context.Background(), stale, poolapi.Manager)
	require.NoError(t, err)

	mgr.applyReplicaChange(context.Background(), "tick-1", "10.0.0.1", "6379", []sconn.Replica{
		{IP: "10.0.0.2", Port: "6379", Flags: "slave", MasterHost: "10.0.0.1", MasterPort: "6379"},
	})

	assert.True(t, adapter.HasReplica(addr.New("tcp", "10.0.0.2", 6379)))
	assert.False(t, adapter.IsReplicaUnfrozen(stale), "a replica no longer reported by sentinel must be frozen")
}

func TestApplyReplicaChangeSkipsDownReplica(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter)

	mgr.applyReplicaChange(context.Background(), "tick-1", "10.0.0.1", "6379", []sconn.Replica{
		{IP: "10.0.0.2", Port: "6379", Flags: "s_down,slave", MasterHost: "10.0.0.1", MasterPort: "6379"},
	})

	assert.False(t, adapter.HasReplica(addr.New("tcp", "10.0.0.2", 6379)), "a replica reported s_down must not be added")
}

func TestApplySentinelChangeRegistersDiscovered(t *testing.T) {
	selfNode := fakesentinel.NewNode("mymaster", "10.0.0.1", "6379")
	otherNode := fakesentinel.NewNode("mymaster", "10.0.0.1", "6379")

	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter, WithSentinelConnFunc(connFuncForNodes(map[string]*fakesentinel.Node{
		"127.0.0.1:26379": selfNode,
		"10.0.0.20:26379": otherNode,
	})))

	self := addr.New("tcp", "127.0.0.1", 26379)
	mgr.applySentinelChange(context.Background(), self, []sconn.Replica{
		{IP: "10.0.0.20", Port: "26379", Flags: "sentinel"},
	})

	require.Eventually(t, func() bool {
		return mgr.sentinelReg.Len() == 2
	}, time.Second, 10*time.Millisecond, "expected both self and the discovered sentinel to register")
}
