package sentinelmgr

import (
	"context"
	"strconv"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/registry"
	"github.com/redistopo/sentinelmgr/sconn"
)

// Bootstrap runs the first-contact loop over the seed Sentinels (spec
// §4.6): it discovers whether authentication is required, learns the
// current master and replica set from the first seed that answers, seeds
// the Sentinel registry, and checks fleet membership sanity. It must
// succeed before Run is called.
func (m *Manager) Bootstrap(ctx context.Context) error {
	seeds := make([]addr.URI, 0, len(m.cfg.SentinelAddresses))
	for _, raw := range m.cfg.SentinelAddresses {
		u, err := addr.Parse(raw)
		if err != nil {
			return errors.Wrapf(ErrConfig, "sentinel-addresses: %v", err)
		}
		seeds = append(seeds, u)
		// Step 1: remember non-literal, non-localhost seed hostnames for
		// later Sentinel DNS monitoring.
		if !u.IsLiteral() && !u.IsLocalhost() {
			m.sentinelHosts[u.Host] = u.Port
		}
	}

	if err := m.authProbe(ctx, seeds); err != nil {
		return err
	}

	if err := m.seedTopology(ctx, seeds); err != nil {
		return err
	}

	// Step 4: membership sanity.
	if m.cfg.CheckSentinelsList && m.cfg.SentinelsDiscovery {
		n := m.sentinelReg.Len()
		if n < 2 {
			return errors.Wrapf(ErrTooFewSentinels, "checkSentinelsList: discovered %d sentinel(s)", n)
		}
	}

	// Step 5: master presence.
	if _, ok := m.masterCell.Current(); !ok {
		return ErrNoMaster
	}

	// Step 6: empty-replica warning.
	if m.cfg.ReadMode != ReadMaster && len(m.adapter.AllReplicaEndpoints()) == 0 {
		m.log.Warn("read-mode requests replica reads but no replicas were discovered at bootstrap")
	}

	return nil
}

// authProbe implements spec §4.6 step 2: try each seed until a definitive
// outcome is reached (connects cleanly, or a PING reveals auth is
// required). Exhaustion without ever connecting is fatal. A PING is always
// issued, regardless of whether a command password is configured, because
// the first definitive outcome this probe must be able to reach is spec §7
// error kind 3: the Sentinel demands authentication that was never
// configured.
func (m *Manager) authProbe(ctx context.Context, seeds []addr.URI) error {
	var lastErr error
	for _, seed := range seeds {
		conn, err := m.dialSentinel(ctx, seed)
		if err != nil {
			lastErr = err
			continue
		}

		pingErr := sconn.New(conn).Ping(ctx)
		_ = conn.Close()
		if pingErr != nil && sconn.IsAuthRequiredErr(pingErr) {
			if m.cfg.Password == "" {
				return errors.Wrapf(ErrAuthRequired, "sentinel %s", seed)
			}
			m.setAuthEnabled(true)
		}
		return nil
	}
	return errors.Wrap(ErrUnreachable, errCause(lastErr))
}

func errCause(err error) string {
	if err == nil {
		return "no seed addresses reachable"
	}
	return err.Error()
}

// seedTopology implements spec §4.6 step 3: try each seed in turn until one
// yields a full topology snapshot.
func (m *Manager) seedTopology(ctx context.Context, seeds []addr.URI) error {
	var lastErr error
	for _, seed := range seeds {
		conn, err := m.dialSentinel(ctx, seed)
		if err != nil {
			lastErr = err
			continue
		}

		if err := m.seedFromSentinel(ctx, conn, seed); err != nil {
			lastErr = err
			_ = conn.Close()
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr != nil {
		return errors.Wrap(lastErr, "bootstrap: no seed sentinel produced a topology snapshot")
	}
	return errors.Wrap(ErrUnreachable, "bootstrap: no seed sentinels configured")
}

func (m *Manager) seedFromSentinel(ctx context.Context, conn radix.Conn, seedURI addr.URI) error {
	sc := sconn.New(conn)

	ip, port, err := sc.GetMasterAddrByName(ctx, m.cfg.MasterName)
	if err != nil {
		return err
	}
	if ip == "" {
		return errors.Errorf("sentinel %s: no master known for %q", seedURI, m.cfg.MasterName)
	}

	masterURI, err := m.resolveDeclared(ctx, "tcp", ip, mustAtoi(port))
	if err != nil {
		return errors.Wrapf(err, "resolving master address %s:%s", ip, port)
	}
	m.masterCell.Set(masterURI.resolved)
	if !masterURI.declared.IsLiteral() {
		m.dnsMu.Lock()
		m.masterHosts[masterURI.declared] = masterURI.resolved
		m.dnsMu.Unlock()
	}
	if _, err := m.adapter.ChangeMaster(ctx, m.cfg.MasterName, masterURI.resolved); err != nil {
		return errors.Wrap(err, "initializing master pool")
	}

	slaves, err := sc.Slaves(ctx, m.cfg.MasterName)
	if err != nil {
		return err
	}
	for _, rep := range slaves {
		if rep.IP == "" || rep.Port == "" {
			continue
		}
		repURI, err := m.resolveDeclared(ctx, "tcp", rep.IP, mustAtoi(rep.Port))
		if err != nil {
			m.log.WithError(err).WithField("replica", rep.IP).Error("resolving replica address")
			continue
		}

		down := sconn.IsDown(rep, m.cfg.CheckSync)
		if down {
			m.disconnected.Add(repURI.resolved)
		}
		if !down && !repURI.declared.IsLiteral() {
			m.dnsMu.Lock()
			m.replicaHosts[repURI.declared] = repURI.resolved
			m.dnsMu.Unlock()
		}
		if !m.cfg.SkipReplicasInit && !down {
			declaredHost := ""
			if !repURI.declared.IsLiteral() {
				declaredHost = repURI.declared.Host
			}
			if err := m.adapter.AddReplica(ctx, repURI.resolved, declaredHost); err != nil {
				m.log.WithError(err).WithField("replica", repURI.resolved.String()).Error("adding replica at bootstrap")
			}
		}
	}

	sentinels, err := sc.Sentinels(ctx, m.cfg.MasterName)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	regCtx, cancel := context.WithTimeout(gctx, m.cfg.ConnectTimeout)
	defer cancel()

	for _, sEntry := range sentinels {
		if sEntry.IP == "" || sEntry.Port == "" {
			continue
		}
		candidate := addr.New("tcp", sEntry.IP, mustAtoi(sEntry.Port))
		g.Go(func() error {
			if err := m.registerSentinel(regCtx, candidate); err != nil {
				m.log.WithError(err).WithField("sentinel", candidate.String()).Warn("registering discovered sentinel")
			}
			return nil
		})
	}
	// Also register the currently-connected Sentinel itself.
	g.Go(func() error {
		if err := m.registerSentinel(regCtx, seedURI); err != nil {
			m.log.WithError(err).WithField("sentinel", seedURI.String()).Warn("registering seed sentinel")
		}
		return nil
	})
	_ = g.Wait() // per-registration errors are logged, not propagated

	return nil
}

// declaredResolved pairs the declared (post-NAT, pre-resolve) URI with the
// actually-dialable resolved address.
type declaredResolved struct {
	declared addr.URI
	resolved addr.URI
}

// resolveDeclared applies the configured NAT mapper to the Sentinel-
// reported address, then resolves the result if it is a hostname.
func (m *Manager) resolveDeclared(ctx context.Context, scheme, host string, port int) (declaredResolved, error) {
	reported := addr.New(scheme, host, port)
	declared := m.cfg.NATMapper(reported)
	if declared.IsLiteral() {
		return declaredResolved{declared: declared, resolved: declared}, nil
	}
	resolved, err := m.res.ResolveOne(ctx, declared.Scheme, declared.Host, declared.Port)
	if err != nil {
		return declaredResolved{}, err
	}
	return declaredResolved{declared: declared, resolved: resolved}, nil
}

// registerSentinel implements the registerSentinel protocol of spec §4.6:
// idempotent under concurrent callers via the registry's compare-and-set
// insert (spec §8 invariant e).
func (m *Manager) registerSentinel(ctx context.Context, declared addr.URI) error {
	if declared.IsLiteral() && m.sentinelReg.Contains(declared) {
		return nil
	}

	resolved := declared
	if !declared.IsLiteral() {
		r, err := m.res.ResolveOne(ctx, declared.Scheme, declared.Host, declared.Port)
		if err != nil {
			return errors.Wrapf(err, "resolving sentinel host %s", declared.Host)
		}
		resolved = r
		if m.sentinelReg.Contains(resolved) {
			return nil
		}
	}

	conn, err := m.dialSentinel(ctx, resolved)
	if err != nil {
		return errors.Wrapf(err, "dialing sentinel %s", resolved)
	}
	if err := sconn.New(conn).Ping(ctx); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "pinging sentinel %s", resolved)
	}

	declaredHost := ""
	if !declared.IsLiteral() {
		declaredHost = declared.Host
	}
	if !m.sentinelReg.TryRegister(resolved, registry.SentinelEntry{DeclaredHost: declaredHost, Client: conn}) {
		// lost the race to another concurrent registration.
		_ = conn.Close()
		return nil
	}
	m.log.WithFields(logrus.Fields{"sentinel": resolved.String(), "declared_host": declaredHost}).Info("sentinel registered")
	return nil
}

// mustAtoi parses a Sentinel-reported port number. Sentinel only ever
// returns numeric ports, so a parse failure folds to 0, which downstream
// dial attempts will simply fail on.
func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
