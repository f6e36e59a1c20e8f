package sentinelmgr

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/poolapi"
	"github.com/redistopo/sentinelmgr/trace"
)

// dnsMonitorLoop is the DNS monitor of spec §4.8: it only runs when Run
// decided dnsMonitorEnabled() was true, and re-resolves every declared
// hostname on its own independent interval, concurrently with the
// reconciliation scheduler.
func (m *Manager) dnsMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DNSInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dnsTick(ctx)
		}
	}
}

// dnsTick re-resolves every declared master/replica hostname, then sweeps
// for new Sentinel addresses behind the seed hostnames.
func (m *Manager) dnsTick(ctx context.Context) {
	m.dnsMu.Lock()
	masterSnapshot := make(map[addr.URI]addr.URI, len(m.masterHosts))
	for k, v := range m.masterHosts {
		masterSnapshot[k] = v
	}
	replicaSnapshot := make(map[addr.URI]addr.URI, len(m.replicaHosts))
	for k, v := range m.replicaHosts {
		replicaSnapshot[k] = v
	}
	m.dnsMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for declared, last := range masterSnapshot {
		declared, last := declared, last
		g.Go(func() error {
			m.dnsCheckMaster(gctx, declared, last)
			return nil
		})
	}
	for declared, last := range replicaSnapshot {
		declared, last := declared, last
		g.Go(func() error {
			m.dnsCheckReplica(gctx, declared, last)
			return nil
		})
	}
	_ = g.Wait()

	m.dnsSentinelSweep(ctx)
}

// dnsCheckMaster implements spec §4.8 "Master DNS change".
func (m *Manager) dnsCheckMaster(ctx context.Context, declared, last addr.URI) {
	resolved, err := m.res.ResolveOne(ctx, declared.Scheme, declared.Host, declared.Port)
	if err != nil {
		m.log.WithError(err).WithField("host", declared.Host).Error("dns: resolving declared master host")
		return
	}
	if resolved.Equal(last) {
		return
	}

	current, ok := m.masterCell.Current()
	if !ok || !current.Equal(last) {
		m.log.WithField("host", declared.Host).Warn("dns: master pool entry keyed by old address is gone, skipping")
		return
	}

	if !m.adapter.ShutdownGate().Acquire() {
		return
	}
	defer m.adapter.ShutdownGate().Release()

	oldPtr := m.masterCell.Load()
	if !m.masterCell.CompareAndSwap(oldPtr, resolved) {
		return
	}

	if _, err := m.adapter.ChangeMaster(ctx, m.cfg.MasterName, resolved); err != nil {
		m.log.WithError(err).Error("dns-driven master swap rejected by pool adapter, reverting")
		if reverted := m.masterCell.Load(); reverted != nil {
			m.masterCell.CompareAndSwap(reverted, last)
		}
		return
	}

	m.dnsMu.Lock()
	m.masterHosts[declared] = resolved
	m.dnsMu.Unlock()

	m.trace.Emit(trace.MasterChanged{Old: last, New: resolved, ViaDNS: true})
	m.trace.Emit(trace.DNSRebind{DeclaredHost: declared.Host, Old: last, New: resolved, IsMaster: true})
	m.log.WithFields(map[string]interface{}{"host": declared.Host, "old": last.String(), "new": resolved.String()}).
		Info("dns-driven master swap")
}

// dnsCheckReplica implements spec §4.8 "Replica DNS change".
func (m *Manager) dnsCheckReplica(ctx context.Context, declared, last addr.URI) {
	resolved, err := m.res.ResolveOne(ctx, declared.Scheme, declared.Host, declared.Port)
	if err != nil {
		m.log.WithError(err).WithField("host", declared.Host).Error("dns: resolving declared replica host")
		return
	}
	if resolved.Equal(last) {
		return
	}

	if !m.adapter.HasReplica(last) {
		m.log.WithField("host", declared.Host).Warn("dns: replica pool entry keyed by old address is gone, skipping")
		return
	}

	if !m.adapter.ShutdownGate().Acquire() {
		return
	}
	defer m.adapter.ShutdownGate().Release()

	if m.adapter.HasReplica(resolved) {
		m.adapter.ReplicaUp(ctx, resolved, poolapi.Manager)
		m.adapter.ReplicaDown(ctx, last, poolapi.Manager)
	} else {
		if err := m.adapter.AddReplica(ctx, resolved, declared.Host); err != nil {
			m.log.WithError(err).WithField("replica", resolved.String()).Error("dns: adding rebound replica")
			return
		}
		m.adapter.ReplicaDown(ctx, last, poolapi.Manager)
	}

	m.dnsMu.Lock()
	m.replicaHosts[declared] = resolved
	m.dnsMu.Unlock()

	m.trace.Emit(trace.DNSRebind{DeclaredHost: declared.Host, Old: last, New: resolved})
	m.log.WithFields(map[string]interface{}{"host": declared.Host, "old": last.String(), "new": resolved.String()}).
		Info("dns-driven replica rebind")
}

// dnsSentinelSweep implements spec §4.8 "Sentinel DNS": re-resolve every
// stored Sentinel hostname and register any address not already known.
func (m *Manager) dnsSentinelSweep(ctx context.Context) {
	for host, port := range m.sentinelHosts {
		uris, err := m.res.ResolveAll(ctx, "tcp", host, port)
		if err != nil {
			m.log.WithError(err).WithField("host", host).Error("dns: resolving sentinel host")
			continue
		}
		for _, u := range uris {
			if m.sentinelReg.Contains(u) {
				continue
			}
			u := u
			go func() {
				if err := m.registerSentinel(ctx, u); err != nil {
					m.log.WithError(err).WithField("sentinel", u.String()).Warn("dns: registering discovered sentinel")
				}
			}()
		}
	}
}
