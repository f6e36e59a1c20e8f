// Package sentinelmgr implements the Sentinel-backed topology manager: it
// discovers a Redis master/replica deployment through a set of Sentinel
// nodes, maintains an up-to-date view of that topology, and keeps the
// caller's pool adapter aligned with reality (see SPEC_FULL.md).
package sentinelmgr

import (
	"context"
	"io"
	"math/rand"
	"sync"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/poolapi"
	"github.com/redistopo/sentinelmgr/registry"
	"github.com/redistopo/sentinelmgr/resolver"
	"github.com/redistopo/sentinelmgr/sconn"
	"github.com/redistopo/sentinelmgr/trace"
)

// ManagerOpt is an optional behavior applied to New, in the same shape as
// the teacher's own SentinelOpt.
type ManagerOpt func(*Manager)

// WithResolver overrides the default resolver.SystemResolver, primarily for
// tests.
func WithResolver(r resolver.Resolver) ManagerOpt {
	return func(m *Manager) { m.res = r }
}

// WithTrace installs observability callbacks (spec §6 "Observability").
func WithTrace(t trace.Topology) ManagerOpt {
	return func(m *Manager) { m.trace = t }
}

// WithLogger overrides the default logrus entry.
func WithLogger(log *logrus.Entry) ManagerOpt {
	return func(m *Manager) { m.log = log }
}

// WithSentinelConnFunc overrides how connections to Sentinel nodes
// themselves are dialed; by default New builds one from Config that applies
// SentinelPassword once the auth probe determines it is needed.
func WithSentinelConnFunc(cf radix.ConnFunc) ManagerOpt {
	return func(m *Manager) { m.connFunc = cf }
}

// Manager is the long-lived instance holding all topology state: one
// Sentinel registry, one master cell, one disconnected set, and the
// scheduler/DNS-monitor goroutines that mutate them (spec §9 "Global
// state. None at process scope; the manager instance holds all state").
// Lifecycle: New (dial-free) -> Bootstrap -> Run -> Shutdown.
type Manager struct {
	cfg     Config
	adapter poolapi.Adapter
	res     resolver.Resolver
	trace   trace.Topology
	log     *logrus.Entry

	connFunc     radix.ConnFunc
	usePassword  bool
	usePasswordL sync.Mutex

	sentinelReg  *registry.SentinelRegistry
	masterCell   *registry.MasterCell
	disconnected *registry.DisconnectedSet

	// sentinelHosts remembers the non-literal, non-localhost seed
	// hostnames for the DNS monitor's Sentinel-discovery sweep (spec §4.6
	// step 1, §4.8 "Sentinel DNS").
	sentinelHosts map[string]int // host -> port, scheme assumed tcp

	// masterHosts/replicaHosts map a declared hostname URI to its
	// last-resolved address, maintained by the DNS monitor (spec §4.8).
	dnsMu        sync.Mutex
	masterHosts  map[addr.URI]addr.URI
	replicaHosts map[addr.URI]addr.URI

	lastErrMu sync.Mutex
	lastErr   error

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New validates cfg and constructs a Manager bound to adapter. It performs
// no network I/O; call Bootstrap next.
func New(cfg Config, adapter poolapi.Adapter, opts ...ManagerOpt) (*Manager, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, errors.Wrap(ErrConfig, "pool adapter is required")
	}

	m := &Manager{
		cfg:           cfg,
		adapter:       adapter,
		res:           resolver.SystemResolver{},
		log:           logrus.NewEntry(logrus.StandardLogger()).WithField("component", "sentinelmgr"),
		sentinelReg:   registry.NewSentinelRegistry(),
		masterCell:    &registry.MasterCell{},
		disconnected:  registry.NewDisconnectedSet(),
		sentinelHosts: make(map[string]int),
		masterHosts:   make(map[addr.URI]addr.URI),
		replicaHosts:  make(map[addr.URI]addr.URI),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.connFunc == nil {
		m.connFunc = m.defaultSentinelConnFunc()
	}
	return m, nil
}

// defaultSentinelConnFunc returns a ConnFunc that applies SentinelPassword
// once the auth probe (bootstrap step 2) has latched usePassword.
func (m *Manager) defaultSentinelConnFunc() radix.ConnFunc {
	return func(ctx context.Context, network, address string) (radix.Conn, error) {
		opts := []radix.DialOpt{radix.DialTimeout(m.cfg.ConnectTimeout)}
		if m.authEnabled() && m.cfg.SentinelPassword != "" {
			opts = append(opts, radix.DialAuthPass(m.cfg.SentinelPassword))
		}
		return radix.Dial(ctx, network, address, opts...)
	}
}

func (m *Manager) authEnabled() bool {
	m.usePasswordL.Lock()
	defer m.usePasswordL.Unlock()
	return m.usePassword
}

func (m *Manager) setAuthEnabled(v bool) {
	m.usePasswordL.Lock()
	m.usePassword = v
	m.usePasswordL.Unlock()
}

// dialSentinel dials a Sentinel node at uri using the manager's connFunc,
// bounded by ConnectTimeout.
func (m *Manager) dialSentinel(ctx context.Context, uri addr.URI) (radix.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	conn, err := m.connFunc(ctx, uri.Network(), uri.HostPort())
	if err != nil {
		return nil, errors.Wrapf(err, "dial sentinel %s", uri)
	}
	return conn, nil
}

// recordLastErr stashes the most recent steady-state error for diagnostics;
// it is never propagated to callers (spec §7 "Steady-state errors never
// propagate").
func (m *Manager) recordLastErr(err error) {
	m.lastErrMu.Lock()
	m.lastErr = err
	m.lastErrMu.Unlock()
}

// LastError returns the most recent steady-state (non-fatal) error
// observed by the reconciliation scheduler, or nil. DNS monitor failures
// are logged only and are not recorded here.
func (m *Manager) LastError() error {
	m.lastErrMu.Lock()
	defer m.lastErrMu.Unlock()
	return m.lastErr
}

// shuffledSnapshot returns the current Sentinel registry snapshot in
// shuffled order, used by the reconciliation scheduler's round-robin (spec
// §4.7 "Tick").
func (m *Manager) shuffledSnapshot() []registry.SentinelEntry {
	entries := m.sentinelReg.Snapshot()
	rand.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	return entries
}

// Run starts the reconciliation scheduler and, if configured, the DNS
// monitor. It must be called after a successful Bootstrap.
func (m *Manager) Run(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconcileLoop(ctx)
	}()

	if m.dnsMonitorEnabled() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.dnsMonitorLoop(ctx)
		}()
	}
}

// dnsMonitorEnabled implements spec §4.8's start condition: dns-interval
// must be non-negative and at least one master or replica must have been
// originally declared by hostname.
func (m *Manager) dnsMonitorEnabled() bool {
	if m.cfg.DNSInterval < 0 {
		return false
	}
	m.dnsMu.Lock()
	defer m.dnsMu.Unlock()
	return len(m.masterHosts) > 0 || len(m.replicaHosts) > 0
}

// Shutdown cancels the monitor/scheduler goroutines, drains and
// asynchronously shuts down every registered Sentinel client, then
// delegates to the pool adapter's own shutdown (spec §5 "Cancellation").
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var drainWG sync.WaitGroup
	for _, entry := range m.sentinelReg.Snapshot() {
		m.sentinelReg.Remove(entry.URI)
		if entry.Client == nil {
			continue
		}
		drainWG.Add(1)
		go func(c io.Closer) {
			defer drainWG.Done()
			if err := c.Close(); err != nil {
				m.log.WithError(err).Warn("closing sentinel client during shutdown")
			}
		}(entry.Client)
	}
	drainWG.Wait()

	return m.adapter.Shutdown(ctx)
}
