package fakesentinel

import (
	"sync"

	radix "github.com/mediocregopher/radix/v4"
)

// ReplicaFlags is one entry of a fake node's SENTINEL SLAVES/SENTINELS
// reply: just the fields sconn.Replica cares about.
type ReplicaFlags struct {
	IP, Port         string
	MasterHost       string
	MasterPort       string
	Flags            string // e.g. "slave", "s_down,slave", "disconnected"
	MasterLinkStatus string // "ok" or "err", empty if unreported
}

// Node is an in-process stand-in for one Sentinel node's view of a
// master/replica/sentinel-fleet deployment. Its locking plays the role the
// upstream library gives its Sentinel client's internal process lock, but
// that lock is private to its own module, so Node uses a plain
// sync.RWMutex instead.
type Node struct {
	mu sync.RWMutex

	masterName           string
	masterIP, masterPort string
	authPass             string
	replicas             []ReplicaFlags
	sentinels            []ReplicaFlags
}

// NewNode creates a fake Sentinel node that believes masterName currently
// lives at masterIP:masterPort.
func NewNode(masterName, masterIP, masterPort string) *Node {
	return &Node{masterName: masterName, masterIP: masterIP, masterPort: masterPort}
}

// RequireAuth makes PING and every SENTINEL command fail with NOAUTH until
// a connection successfully authenticates with pass.
func (n *Node) RequireAuth(pass string) {
	n.mu.Lock()
	n.authPass = pass
	n.mu.Unlock()
}

// SetMaster changes what GET-MASTER-ADDR-BY-NAME reports. An empty ip makes
// the node report "no master known", as a real Sentinel does immediately
// after its own failover vote but before a primary is confirmed.
func (n *Node) SetMaster(ip, port string) {
	n.mu.Lock()
	n.masterIP, n.masterPort = ip, port
	n.mu.Unlock()
}

// SetReplicas replaces the full SENTINEL SLAVES reply.
func (n *Node) SetReplicas(reps ...ReplicaFlags) {
	n.mu.Lock()
	n.replicas = append([]ReplicaFlags(nil), reps...)
	n.mu.Unlock()
}

// SetSentinels replaces the full SENTINEL SENTINELS reply.
func (n *Node) SetSentinels(sents ...ReplicaFlags) {
	n.mu.Lock()
	n.sentinels = append([]ReplicaFlags(nil), sents...)
	n.mu.Unlock()
}

// Conn dials a fresh fake connection to this node. Each call gets its own
// authentication state, matching how distinct TCP connections to one real
// Sentinel behave.
func (n *Node) Conn() radix.Conn {
	authed := n.authPass == ""
	return newConn("tcp", "fake-sentinel", func(args []string) interface{} {
		return n.dispatch(args, &authed)
	})
}

type protoErr string

func (e protoErr) Error() string { return string(e) }

func (n *Node) dispatch(args []string, authed *bool) interface{} {
	if len(args) == 0 {
		return protoErr("ERR empty command")
	}

	n.mu.RLock()
	authPass := n.authPass
	n.mu.RUnlock()

	switch upper(args[0]) {
	case "AUTH":
		if len(args) != 2 || args[1] != authPass {
			return protoErr("ERR invalid password")
		}
		*authed = true
		return "OK"
	case "PING":
		if authPass != "" && !*authed {
			return protoErr("NOAUTH Authentication required.")
		}
		return "PONG"
	case "SENTINEL":
		if authPass != "" && !*authed {
			return protoErr("NOAUTH Authentication required.")
		}
		return n.sentinelCmd(args[1:])
	default:
		return protoErr("ERR unknown command '" + args[0] + "'")
	}
}

func (n *Node) sentinelCmd(args []string) interface{} {
	if len(args) == 0 {
		return protoErr("ERR wrong number of arguments for 'sentinel' command")
	}
	switch upper(args[0]) {
	case "GET-MASTER-ADDR-BY-NAME":
		n.mu.RLock()
		defer n.mu.RUnlock()
		if len(args) < 2 || args[1] != n.masterName || n.masterIP == "" {
			return ([]string)(nil)
		}
		return []string{n.masterIP, n.masterPort}
	case "SLAVES":
		n.mu.RLock()
		defer n.mu.RUnlock()
		return flagsToFieldMaps(n.replicas)
	case "SENTINELS":
		n.mu.RLock()
		defer n.mu.RUnlock()
		return flagsToFieldMaps(n.sentinels)
	default:
		return protoErr("ERR unknown sentinel subcommand '" + args[0] + "'")
	}
}

func flagsToFieldMaps(all []ReplicaFlags) []map[string]string {
	out := make([]map[string]string, 0, len(all))
	for _, r := range all {
		m := map[string]string{
			"ip":          r.IP,
			"port":        r.Port,
			"flags":       r.Flags,
			"master-host": r.MasterHost,
			"master-port": r.MasterPort,
		}
		if r.MasterLinkStatus != "" {
			m["master-link-status"] = r.MasterLinkStatus
		}
		out = append(out, m)
	}
	return out
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
