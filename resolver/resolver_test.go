package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistopo/sentinelmgr/addr"
)

func TestSystemResolverLiteralShortCircuits(t *testing.T) {
	var r SystemResolver
	u, err := r.ResolveOne(context.Background(), "tcp", "10.0.0.1", 6379)
	require.NoError(t, err)
	assert.Equal(t, addr.New("tcp", "10.0.0.1", 6379), u)

	all, err := r.ResolveAll(context.Background(), "tcp", "10.0.0.1", 6379)
	require.NoError(t, err)
	assert.Equal(t, []addr.URI{addr.New("tcp", "10.0.0.1", 6379)}, all)
}

// fakeResolver lets BatchResolveOne's per-host error isolation be tested
// without touching a real DNS server.
type fakeResolver struct {
	fail map[string]bool
}

func (f fakeResolver) ResolveOne(_ context.Context, scheme, host string, port int) (addr.URI, error) {
	if f.fail[host] {
		return addr.URI{}, errTest
	}
	return addr.New(scheme, host, port), nil
}

func (f fakeResolver) ResolveAll(_ context.Context, scheme, host string, port int) ([]addr.URI, error) {
	if f.fail[host] {
		return nil, errTest
	}
	return []addr.URI{addr.New(scheme, host, port)}, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("resolver_test: simulated lookup failure")

func TestBatchResolveOneIsolatesFailures(t *testing.T) {
	r := fakeResolver{fail: map[string]bool{"bad-host": true}}
	results := BatchResolveOne(context.Background(), r, []struct {
		Scheme, Host string
		Port         int
	}{
		{"tcp", "good-host", 6379},
		{"tcp", "bad-host", 6379},
		{"tcp", "also-good", 6380},
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, addr.New("tcp", "good-host", 6379), results[0].URI)

	assert.Error(t, results[1].Err)
	assert.Equal(t, "bad-host", results[1].Host)

	assert.NoError(t, results[2].Err)
	assert.Equal(t, addr.New("tcp", "also-good", 6380), results[2].URI)
}
