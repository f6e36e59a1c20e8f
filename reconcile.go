package sentinelmgr

import (
	"context"
	"sync"
	"time"

	radix "github.com/mediocregopher/radix/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/poolapi"
	"github.com/redistopo/sentinelmgr/registry"
	"github.com/redistopo/sentinelmgr/sconn"
	"github.com/redistopo/sentinelmgr/trace"
)

// reconcileLoop is the self-rearming timer of spec §4.7: the next tick is
// only scheduled after the current one's pending work has fully settled,
// enforced here simply by time.Ticker never firing concurrently with
// itself.
func (m *Manager) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileTick(ctx)
		}
	}
}

// reconcileTick implements the IDLE -> QUERYING(sentinel_i) -> ... state
// machine of spec §4.9: iterate the shuffled Sentinel snapshot until one
// yields a fully successful round of sub-queries, or the set is exhausted.
func (m *Manager) reconcileTick(ctx context.Context) {
	tickID := uuid.NewString()
	for _, entry := range m.shuffledSnapshot() {
		if !m.adapter.ShutdownGate().Acquire() {
			return
		}
		ok := m.reconcileWithSentinel(ctx, tickID, entry)
		m.adapter.ShutdownGate().Release()
		if ok {
			return
		}
	}
}

// reconcileWithSentinel dials entry fresh, issues the (up to) three
// parallel sub-queries, and commits their results only when every one of
// them succeeded; if any sub-query fails, or the Sentinel reports no master,
// nothing from this Sentinel is committed. It returns true iff every
// sub-query succeeded, per the completion rule of spec §4.7.
func (m *Manager) reconcileWithSentinel(ctx context.Context, tickID string, entry registry.SentinelEntry) bool {
	conn, err := m.dialSentinel(ctx, entry.URI)
	if err != nil {
		m.recordLastErr(err)
		return false
	}
	defer conn.Close()

	sc := sconn.New(conn)

	var masterIP, masterPort string
	var slaves, sentinels []sconn.Replica

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		masterIP, masterPort, err = sc.GetMasterAddrByName(gctx, m.cfg.MasterName)
		return err
	})
	if m.cfg.SentinelsDiscovery {
		g.Go(func() error {
			var err error
			sentinels, err = sc.Sentinels(gctx, m.cfg.MasterName)
			return err
		})
	}
	if !m.cfg.SkipReplicasInit {
		g.Go(func() error {
			var err error
			slaves, err = sc.Slaves(gctx, m.cfg.MasterName)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		m.recordLastErr(err)
		return false
	}
	if masterIP == "" {
		m.recordLastErr(errors.Errorf("sentinel %s: no master known for %q", entry.URI, m.cfg.MasterName))
		return false
	}

	m.applyMasterChange(ctx, tickID, masterIP, masterPort)
	if !m.cfg.SkipReplicasInit {
		m.applyReplicaChange(ctx, tickID, masterIP, masterPort, slaves)
	}
	if m.cfg.SentinelsDiscovery {
		m.applySentinelChange(ctx, entry.URI, sentinels)
	}
	return true
}

// applyMasterChange implements spec §4.7 "Master change": CAS the master
// cell and commit through the pool adapter, reverting the cell on adapter
// failure.
func (m *Manager) applyMasterChange(ctx context.Context, tickID, ip, port string) {
	if ip == "" {
		return
	}
	dr, err := m.resolveDeclared(ctx, "tcp", ip, mustAtoi(port))
	if err != nil {
		m.log.WithError(err).Error("resolving reported master address")
		return
	}

	old := m.masterCell.Load()
	if old != nil && old.Equal(dr.resolved) {
		return
	}

	if !m.masterCell.CompareAndSwap(old, dr.resolved) {
		return // another sentinel's tick, or the DNS monitor, already won
	}

	if _, err := m.adapter.ChangeMaster(ctx, m.cfg.MasterName, dr.resolved); err != nil {
		m.log.WithError(err).Error("pool adapter rejected master change, reverting")
		if reverted := m.masterCell.Load(); reverted != nil {
			if old == nil {
				m.masterCell.Clear(reverted)
			} else {
				m.masterCell.CompareAndSwap(reverted, *old)
			}
		}
		return
	}

	if !dr.declared.IsLiteral() {
		m.dnsMu.Lock()
		m.masterHosts[dr.declared] = dr.resolved
		m.dnsMu.Unlock()
	}

	var oldURI addr.URI
	if old != nil {
		oldURI = *old
	}
	m.trace.Emit(trace.MasterChanged{TickID: tickID, Old: oldURI, New: dr.resolved})
	m.log.WithFields(map[string]interface{}{"old": oldURI.String(), "new": dr.resolved.String()}).Info("master changed")
}

// applyReplicaChange implements spec §4.7 "Replica change".
func (m *Manager) applyReplicaChange(ctx context.Context, tickID, masterIP, masterPort string, slaves []sconn.Replica) {
	var seenMu sync.Mutex
	seen := make(map[addr.URI]struct{}, len(slaves))

	g, gctx := errgroup.WithContext(ctx)
	for _, rep := range slaves {
		rep := rep
		g.Go(func() error {
			m.applyOneReplica(gctx, tickID, masterIP, masterPort, rep, seen, &seenMu)
			return nil
		})
	}
	_ = g.Wait()

	currentMaster, haveMaster := m.masterCell.Current()
	for _, ep := range m.adapter.AllReplicaEndpoints() {
		if _, ok := seen[ep]; ok {
			continue
		}
		if haveMaster && ep.Equal(currentMaster) {
			continue
		}
		if changed, err := m.adapter.ReplicaDown(ctx, ep, poolapi.Manager); err == nil && changed {
			m.trace.Emit(trace.ReplicaChanged{TickID: tickID, URI: ep, Kind: trace.ReplicaFrozen})
		}
	}
}

func (m *Manager) applyOneReplica(ctx context.Context, tickID, masterIP, masterPort string, rep sconn.Replica, seen map[addr.URI]struct{}, seenMu *sync.Mutex) {
	if rep.IP == "" || rep.Port == "" {
		return
	}

	if sconn.IsDown(rep, m.cfg.CheckSync) {
		dr, err := m.resolveDeclared(ctx, "tcp", rep.IP, mustAtoi(rep.Port))
		if err != nil {
			m.log.WithError(err).WithField("replica", rep.IP).Error("resolving down replica address")
			return
		}
		if changed, err := m.adapter.ReplicaDown(ctx, dr.resolved, poolapi.Manager); err == nil && changed {
			m.trace.Emit(trace.ReplicaChanged{TickID: tickID, URI: dr.resolved, Kind: trace.ReplicaFrozen})
		}
		return
	}

	if rep.MasterHost == "" || rep.MasterHost == "?" || rep.MasterHost != masterIP || rep.MasterPort != masterPort {
		m.log.WithFields(map[string]interface{}{
			"replica":       rep.IP,
			"reported_master": rep.MasterHost,
			"our_master":    masterIP,
		}).Warn("replica reports inconsistent master, skipping")
		return
	}

	dr, err := m.resolveDeclared(ctx, "tcp", rep.IP, mustAtoi(rep.Port))
	if err != nil {
		m.log.WithError(err).WithField("replica", rep.IP).Error("resolving replica address")
		return
	}

	seenMu.Lock()
	seen[dr.resolved] = struct{}{}
	seenMu.Unlock()

	if !dr.declared.IsLiteral() {
		m.dnsMu.Lock()
		m.replicaHosts[dr.declared] = dr.resolved
		m.dnsMu.Unlock()
	}

	if !m.adapter.HasReplica(dr.resolved) {
		declaredHost := ""
		if !dr.declared.IsLiteral() {
			declaredHost = dr.declared.Host
		}
		if err := m.adapter.AddReplica(ctx, dr.resolved, declaredHost); err != nil {
			m.log.WithError(err).WithField("replica", dr.resolved.String()).Error("adding replica")
			return
		}
		m.trace.Emit(trace.ReplicaChanged{TickID: tickID, URI: dr.resolved, Kind: trace.ReplicaAdded})
		if !m.adapter.IsReplicaUnfrozen(dr.resolved) {
			if changed, _ := m.adapter.ReplicaUp(ctx, dr.resolved, poolapi.Manager); changed {
				m.trace.Emit(trace.ReplicaChanged{TickID: tickID, URI: dr.resolved, Kind: trace.ReplicaUnfrozen})
			}
		}
		return
	}

	if changed, _ := m.adapter.ReplicaUp(ctx, dr.resolved, poolapi.Manager); changed {
		m.trace.Emit(trace.ReplicaChanged{TickID: tickID, URI: dr.resolved, Kind: trace.ReplicaUnfrozen})
	}
}

// applySentinelChange implements spec §4.7 "Sentinel change".
func (m *Manager) applySentinelChange(ctx context.Context, self addr.URI, raw []sconn.Replica) {
	newFleet := map[addr.URI]struct{}{self: {}}
	for _, s := range raw {
		if s.IP == "" || s.Port == "" || sconn.IsDown(s, false) {
			continue
		}
		dr, err := m.resolveDeclared(ctx, "tcp", s.IP, mustAtoi(s.Port))
		if err != nil {
			m.log.WithError(err).WithField("sentinel", s.IP).Error("resolving discovered sentinel")
			continue
		}
		newFleet[dr.resolved] = struct{}{}
	}

	var added, removed []addr.URI
	for _, cur := range m.sentinelReg.Snapshot() {
		if _, ok := newFleet[cur.URI]; ok {
			continue
		}
		if _, ok := m.sentinelReg.Remove(cur.URI); ok {
			removed = append(removed, cur.URI)
			if conn, ok := cur.Client.(radix.Conn); ok && conn != nil {
				go conn.Close()
			}
		}
	}

	for uri := range newFleet {
		if m.sentinelReg.Contains(uri) {
			continue
		}
		uri := uri
		added = append(added, uri)
		go func() {
			if err := m.registerSentinel(ctx, uri); err != nil {
				m.log.WithError(err).WithField("sentinel", uri.String()).Warn("registering discovered sentinel")
			}
		}()
	}

	if len(added) > 0 || len(removed) > 0 {
		m.trace.Emit(trace.SentinelFleetChanged{Added: added, Removed: removed})
	}
}
