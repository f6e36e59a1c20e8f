// Package sconn is the typed Sentinel client (spec §4.5): the four RESP
// commands the topology manager issues against a Sentinel node, built on
// top of github.com/mediocregopher/radix/v4's Conn/Action primitives.
package sconn

import (
	"context"
	"strings"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/pkg/errors"
)

// Client wraps a single radix.Conn to a Sentinel node with the typed calls
// this module needs. It does not pool or retry; that is the caller's job
// (bootstrap and the reconciliation scheduler each own a Conn's lifetime
// for exactly as long as one operation or tick needs it).
type Client struct {
	Conn radix.Conn
}

// New wraps an already-dialed connection to a Sentinel node.
func New(conn radix.Conn) *Client {
	return &Client{Conn: conn}
}

// Replica is one entry of SENTINEL SLAVES or SENTINEL SENTINELS, carrying
// only the fields spec §4.5 documents.
type Replica struct {
	IP               string
	Port             string
	Flags            string
	MasterLinkStatus string
	MasterHost       string
	MasterPort       string
}

func replicaFromFieldMap(m map[string]string) Replica {
	return Replica{
		IP:               m["ip"],
		Port:             m["port"],
		Flags:            m["flags"],
		MasterLinkStatus: m["master-link-status"],
		MasterHost:       m["master-host"],
		MasterPort:       m["master-port"],
	}
}

// GetMasterAddrByName issues SENTINEL GET-MASTER-ADDR-BY-NAME. An empty ip
// and port with a nil error means Sentinel has no opinion (the master is genuinely unknown to
// this Sentinel), which bootstrap and the scheduler treat as a failed
// sub-query, not a hard connection error.
func (c *Client) GetMasterAddrByName(ctx context.Context, name string) (ip, port string, err error) {
	var parts []string
	cmd := radix.Cmd(&parts, "SENTINEL", "GET-MASTER-ADDR-BY-NAME", name)
	if err := c.Conn.Do(ctx, cmd); err != nil {
		return "", "", errors.Wrapf(err, "sconn: GET-MASTER-ADDR-BY-NAME %s", name)
	}
	if len(parts) != 2 {
		return "", "", nil
	}
	return parts[0], parts[1], nil
}

// Slaves issues SENTINEL SLAVES <name>.
func (c *Client) Slaves(ctx context.Context, name string) ([]Replica, error) {
	var raw []map[string]string
	cmd := radix.Cmd(&raw, "SENTINEL", "SLAVES", name)
	if err := c.Conn.Do(ctx, cmd); err != nil {
		return nil, errors.Wrapf(err, "sconn: SENTINEL SLAVES %s", name)
	}
	out := make([]Replica, 0, len(raw))
	for _, m := range raw {
		out = append(out, replicaFromFieldMap(m))
	}
	return out, nil
}

// Sentinels issues SENTINEL SENTINELS <name>.
func (c *Client) Sentinels(ctx context.Context, name string) ([]Replica, error) {
	var raw []map[string]string
	cmd := radix.Cmd(&raw, "SENTINEL", "SENTINELS", name)
	if err := c.Conn.Do(ctx, cmd); err != nil {
		return nil, errors.Wrapf(err, "sconn: SENTINEL SENTINELS %s", name)
	}
	out := make([]Replica, 0, len(raw))
	for _, m := range raw {
		out = append(out, replicaFromFieldMap(m))
	}
	return out, nil
}

// Ping issues PING, used both for registration health-checks and auth
// discovery (spec §4.6 "Auth probe").
func (c *Client) Ping(ctx context.Context) error {
	var resp string
	cmd := radix.Cmd(&resp, "PING")
	if err := c.Conn.Do(ctx, cmd); err != nil {
		return errors.Wrap(err, "sconn: PING")
	}
	return nil
}

// IsAuthRequiredErr reports whether err is the "auth required" response
// Redis returns to an unauthenticated command when requirepass is set, used
// by bootstrap's auth probe to latch usePassword (spec §4.6 step 2).
func IsAuthRequiredErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "AUTHENTICATION")
}

// IsDown implements the down predicate of spec §4.5: a replica is down iff
// its flags contain s_down or disconnected; when checkSync is enabled and
// MasterLinkStatus is non-empty, a master-link-status containing "err" is
// OR'd in. IsDown is monotone in both flags and masterLinkStatus
// individually when checkSync is fixed (spec §8 invariant d): adding
// s_down/disconnected to flags, or adding "err" to a non-empty
// master-link-status under checkSync, can only flip the result from false
// to true, never the reverse.
func IsDown(r Replica, checkSync bool) bool {
	flags := strings.ToLower(r.Flags)
	if strings.Contains(flags, "s_down") || strings.Contains(flags, "disconnected") {
		return true
	}
	if checkSync && r.MasterLinkStatus != "" && strings.Contains(strings.ToLower(r.MasterLinkStatus), "err") {
		return true
	}
	return false
}
