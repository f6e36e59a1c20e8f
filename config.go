package sentinelmgr

import (
	"time"

	"github.com/pkg/errors"

	"github.com/redistopo/sentinelmgr/addr"
)

// ReadMode controls which roles serve reads, and only affects the
// empty-replica warning at bootstrap (spec §4.6 step 6).
type ReadMode int

const (
	ReadMaster ReadMode = iota
	ReadMasterSlave
	ReadSlave
)

// Config holds every configuration option spec §6 names. Required fields
// are checked by Validate, which New calls before doing anything else
// (spec §7 error kind 1).
type Config struct {
	// MasterName is the Sentinel logical master name. Required.
	MasterName string
	// SentinelAddresses is the non-empty list of seed Sentinel URIs.
	// Required.
	SentinelAddresses []string

	// SentinelPassword is used only for Sentinel connections, and only if
	// the auth probe determined a password is required.
	SentinelPassword string
	// Password is the data-plane password; this package never sends it
	// itself. The bootstrap auth probe runs whether or not it is set: when
	// a seed Sentinel demands authentication, a non-empty Password latches
	// authentication on for Sentinel connections, and an empty one makes
	// Bootstrap fail with ErrAuthRequired (spec §4.6 step 2).
	Password string

	// CheckSentinelsList enforces that bootstrap discovers at least two
	// Sentinels when SentinelsDiscovery is also enabled.
	CheckSentinelsList bool
	// SentinelsDiscovery enables Sentinel-fleet reconciliation.
	SentinelsDiscovery bool
	// CheckSync extends the down predicate with master-link-status.
	CheckSync bool

	// ScanInterval is the reconciliation period. Defaults to 1s.
	ScanInterval time.Duration
	// DNSInterval is the DNS monitor period; negative disables it.
	// Defaults to 5s.
	DNSInterval time.Duration
	// ConnectTimeout bounds individual connection attempts and the
	// bootstrap registration await. Defaults to 5s.
	ConnectTimeout time.Duration
	// Timeout is the per-command budget. Validate defaults it to 3s; no
	// Sentinel command issued by this package is bounded by it.
	Timeout time.Duration

	// NATMapper rewrites every address this module learns about before it
	// is used to dial or is handed to the pool adapter. Defaults to
	// addr.IdentityNAT.
	NATMapper addr.NATMapper

	// ReadMode only affects the bootstrap empty-replica warning.
	ReadMode ReadMode
	// SkipReplicasInit suppresses initial replica connection and the
	// reconciliation scheduler's replica sub-query.
	SkipReplicasInit bool
}

// Validate checks the required fields and fills in defaults for the
// optional ones, returning a new Config (the receiver is left unmodified).
func (c Config) Validate() (Config, error) {
	if c.MasterName == "" {
		return c, errors.Wrap(ErrConfig, "master-name is required")
	}
	if len(c.SentinelAddresses) == 0 {
		return c, errors.Wrap(ErrConfig, "sentinel-addresses must be non-empty")
	}
	if c.NATMapper == nil {
		c.NATMapper = addr.IdentityNAT
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Second
	}
	if c.DNSInterval == 0 {
		c.DNSInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	return c, nil
}
