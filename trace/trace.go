// Package trace defines optional observability hooks for the topology
// manager, in the same shape as the teacher's own trace.SentinelTrace:
// every field is a callback that blocks the caller when set, so a caller
// wiring in metrics must keep them cheap.
package trace

import "github.com/redistopo/sentinelmgr/addr"

// Topology carries the callbacks a Manager invokes as it observes and
// reconciles topology changes. The zero value disables all tracing.
type Topology struct {
	// MasterChanged fires after a successful changeMaster commit (spec
	// §4.7 "Master change").
	MasterChanged func(MasterChanged)
	// ReplicaChanged fires for each replica add/freeze/unfreeze transition
	// (spec §4.7 "Replica change", §4.9 "Replica state").
	ReplicaChanged func(ReplicaChanged)
	// SentinelFleetChanged fires once per tick that adds or removes
	// Sentinel registry entries (spec §4.7 "Sentinel change").
	SentinelFleetChanged func(SentinelFleetChanged)
	// DNSRebind fires when the DNS monitor observes an address change
	// behind a declared hostname (spec §4.8).
	DNSRebind func(DNSRebind)
}

// MasterChanged describes a committed master swap.
type MasterChanged struct {
	TickID  string
	Old     addr.URI
	New     addr.URI
	ViaDNS  bool
}

// ReplicaChangeKind enumerates the replica transitions the core produces.
type ReplicaChangeKind int

const (
	ReplicaAdded ReplicaChangeKind = iota
	ReplicaFrozen
	ReplicaUnfrozen
)

// ReplicaChanged describes one replica-set transition.
type ReplicaChanged struct {
	TickID string
	URI    addr.URI
	Kind   ReplicaChangeKind
}

// SentinelFleetChanged describes the delta of one Sentinel-fleet
// reconciliation pass.
type SentinelFleetChanged struct {
	TickID  string
	Added   []addr.URI
	Removed []addr.URI
}

// DNSRebind describes one hostname's resolved address changing.
type DNSRebind struct {
	DeclaredHost string
	Old          addr.URI
	New          addr.URI
	IsMaster     bool
}

func (t Topology) masterChanged(ev MasterChanged) {
	if t.MasterChanged != nil {
		t.MasterChanged(ev)
	}
}

func (t Topology) replicaChanged(ev ReplicaChanged) {
	if t.ReplicaChanged != nil {
		t.ReplicaChanged(ev)
	}
}

func (t Topology) sentinelFleetChanged(ev SentinelFleetChanged) {
	if t.SentinelFleetChanged != nil {
		t.SentinelFleetChanged(ev)
	}
}

func (t Topology) dnsRebind(ev DNSRebind) {
	if t.DNSRebind != nil {
		t.DNSRebind(ev)
	}
}

// Emit fires ev on whichever callback matches its concrete type. It exists
// so callers in this module can hold a single Topology value and call one
// method regardless of which event kind they are reporting.
func (t Topology) Emit(ev interface{}) {
	switch e := ev.(type) {
	case MasterChanged:
		t.masterChanged(e)
	case ReplicaChanged:
		t.replicaChanged(e)
	case SentinelFleetChanged:
		t.sentinelFleetChanged(e)
	case DNSRebind:
		t.dnsRebind(e)
	}
}
