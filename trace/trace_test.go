package trace

import "testing"

func TestEmitDispatchesByType(t *testing.T) {
	var gotMaster bool
	var gotReplica bool
	top := Topology{
		MasterChanged:  func(MasterChanged) { gotMaster = true },
		ReplicaChanged: func(ReplicaChanged) { gotReplica = true },
	}

	top.Emit(MasterChanged{})
	top.Emit(ReplicaChanged{})

	if !gotMaster {
		t.Error("Emit(MasterChanged{}) did not invoke MasterChanged callback")
	}
	if !gotReplica {
		t.Error("Emit(ReplicaChanged{}) did not invoke ReplicaChanged callback")
	}
}

func TestEmitNilCallbackIsNoop(t *testing.T) {
	var top Topology
	// Must not panic when no callbacks are configured.
	top.Emit(MasterChanged{})
	top.Emit(SentinelFleetChanged{})
	top.Emit(DNSRebind{})
}

func TestEmitUnknownTypeIsNoop(t *testing.T) {
	var top Topology
	top.Emit("not an event")
}
