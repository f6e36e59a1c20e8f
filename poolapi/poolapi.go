// Package poolapi defines the external contract the topology manager drives
// but does not implement: the per-node connection pool, command routing,
// and the cooperative shutdown barrier (spec §4.4). These are named here
// because the core calls them; a real deployment supplies its own Adapter,
// typically wrapping a connection-pool library such as
// github.com/mediocregopher/radix/v4 (see RadixAdapter for a concrete,
// testable instance of that).
package poolapi

import (
	"context"

	"github.com/redistopo/sentinelmgr/addr"
)

// FreezeReason tags why a replica is not being served traffic. Manager is
// the only reason this core ever produces; other reasons may be produced by
// collaborators sharing the same Adapter and are opaque to this package
// (spec §4.9 "dynamic dispatch over freeze reason").
type FreezeReason string

// Manager is the freeze/unfreeze reason this core uses exclusively.
const Manager FreezeReason = "MANAGER"

// OldClient is whatever the adapter was routing commands to before a
// changeMaster call; the core never inspects it beyond passing it back for
// logging, so it is opaque.
type OldClient interface{}

// Adapter is the external contract §4.4 names. The topology manager calls
// these methods to commit the mutations it derives from Sentinel and DNS
// state; it never implements them itself.
type Adapter interface {
	// ChangeMaster atomically redirects command routing for slot/group
	// identified by name to newURI. On failure the caller (the scheduler or
	// DNS monitor) must roll back its own master cell.
	ChangeMaster(ctx context.Context, name string, newURI addr.URI) (OldClient, error)
	// AddReplica registers uri as a replica endpoint. If declaredHost is
	// non-empty the adapter should track it as the DNS-monitored name for
	// this endpoint (used by DNS-driven replica rebinding, spec §4.8).
	AddReplica(ctx context.Context, uri addr.URI, declaredHost string) error
	// HasReplica reports whether uri is already a known replica endpoint.
	HasReplica(uri addr.URI) bool
	// ReplicaDown marks uri down for reason. Returns true iff state
	// actually changed.
	ReplicaDown(ctx context.Context, uri addr.URI, reason FreezeReason) (bool, error)
	// ReplicaUp marks uri up for reason. Returns true iff state actually
	// changed.
	ReplicaUp(ctx context.Context, uri addr.URI, reason FreezeReason) (bool, error)
	// IsReplicaUnfrozen reports whether uri is currently served traffic.
	IsReplicaUnfrozen(uri addr.URI) bool
	// AllReplicaEndpoints iterates every replica endpoint currently known
	// to the adapter, used by replica diffing (spec §4.7 "Replica change").
	AllReplicaEndpoints() []addr.URI
	// ShutdownGate returns the cooperative shutdown barrier guarding
	// mutation of master or replica membership (spec §3 invariant, §5
	// "Cancellation").
	ShutdownGate() *Gate
	// Shutdown releases every resource the adapter owns.
	Shutdown(ctx context.Context) error
}
