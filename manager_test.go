package sentinelmgr

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistopo/sentinelmgr/addr"
	"github.com/redistopo/sentinelmgr/fakesentinel"
)

func mustParseURIForTest(t *testing.T, raw string) addr.URI {
	t.Helper()
	u, err := addr.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNewRejectsNilAdapter(t *testing.T) {
	cfg := Config{MasterName: "mymaster", SentinelAddresses: []string{"127.0.0.1:26379"}}
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLastErrorRecordsAndReads(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter)
	assert.NoError(t, mgr.LastError())

	boom := errors.New("manager_test: simulated steady-state failure")
	mgr.recordLastErr(boom)
	assert.Equal(t, boom, mgr.LastError())
}

func TestShutdownClosesRegisteredSentinelsAndDelegatesToAdapter(t *testing.T) {
	node := fakesentinel.NewNode("mymaster", "10.0.0.1", "6379")
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter, WithSentinelConnFunc(connFuncForNodes(map[string]*fakesentinel.Node{
		"127.0.0.1:26379": node,
	})))
	require.NoError(t, mgr.Bootstrap(context.Background()))
	require.Equal(t, 1, mgr.sentinelReg.Len())

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, 0, mgr.sentinelReg.Len())
	assert.Equal(t, 1, adapter.shutdownCalls)
}

func TestDNSMonitorEnabledOnlyAfterHostnameSeed(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := newTestManager(t, adapter)
	assert.False(t, mgr.dnsMonitorEnabled(), "no hostnames tracked yet")

	mgr.masterHosts[mgr.cfg.NATMapper(mustParseURIForTest(t, "tcp://master.svc:6379"))] = mustParseURIForTest(t, "tcp://10.0.0.1:6379")
	assert.True(t, mgr.dnsMonitorEnabled())

	mgr.cfg.DNSInterval = -1
	assert.False(t, mgr.dnsMonitorEnabled(), "negative DNSInterval disables the monitor regardless of tracked hostnames")
}
