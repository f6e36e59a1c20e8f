// Package resolver provides asynchronous hostname resolution used to seed
// and refresh the topology manager's view of Sentinel, master, and replica
// addresses (spec §4.2).
package resolver

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/redistopo/sentinelmgr/addr"
)

// Resolver resolves hostnames to addresses. Literal IPs are never looked up
// on the network; they are turned into a URI with addr.New directly.
type Resolver interface {
	// ResolveOne resolves host to a single address, used everywhere except
	// the DNS-driven Sentinel discovery sweep.
	ResolveOne(ctx context.Context, scheme, host string, port int) (addr.URI, error)
	// ResolveAll resolves host to every address the system resolver
	// returns, used only by DNS-driven Sentinel discovery (spec §4.8).
	ResolveAll(ctx context.Context, scheme, host string, port int) ([]addr.URI, error)
}

// SystemResolver resolves through the operating system's resolver via
// net.Resolver. The zero value is ready to use.
type SystemResolver struct {
	// Resolver, if non-nil, is used instead of net.DefaultResolver, e.g. a
	// net.Resolver with a custom Dial pointing at a different DNS server.
	Resolver *net.Resolver
}

func (r SystemResolver) resolver() *net.Resolver {
	if r.Resolver != nil {
		return r.Resolver
	}
	return net.DefaultResolver
}

// ResolveOne implements Resolver.
func (r SystemResolver) ResolveOne(ctx context.Context, scheme, host string, port int) (addr.URI, error) {
	if ip := net.ParseIP(host); ip != nil {
		return addr.New(scheme, host, port), nil
	}

	ipAddrs, err := r.resolver().LookupIPAddr(ctx, host)
	if err != nil {
		return addr.URI{}, errors.Wrapf(err, "resolver: lookup %q", host)
	}
	if len(ipAddrs) == 0 {
		return addr.URI{}, errors.Errorf("resolver: no addresses for %q", host)
	}
	return addr.New(scheme, ipAddrs[0].IP.String(), port), nil
}

// ResolveAll implements Resolver.
func (r SystemResolver) ResolveAll(ctx context.Context, scheme, host string, port int) ([]addr.URI, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []addr.URI{addr.New(scheme, host, port)}, nil
	}

	ipAddrs, err := r.resolver().LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolver: lookup %q", host)
	}
	out := make([]addr.URI, 0, len(ipAddrs))
	for _, ipAddr := range ipAddrs {
		out = append(out, addr.New(scheme, ipAddr.IP.String(), port))
	}
	return out, nil
}

// Result pairs a resolution outcome with the request that produced it, used
// by BatchResolveOne to report per-host failures without aborting the rest
// of the batch (spec §4.2 "Failures are reported per-address and never
// abort a batch").
type Result struct {
	Scheme, Host string
	Port         int
	URI          addr.URI
	Err          error
}

// BatchResolveOne resolves every (scheme, host, port) triple concurrently,
// bounded by ctx, and returns one Result per input in input order. An
// individual failure is captured in that Result's Err field rather than
// failing the batch.
func BatchResolveOne(ctx context.Context, r Resolver, reqs []struct {
	Scheme, Host string
	Port         int
}) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		results[i] = Result{Scheme: req.Scheme, Host: req.Host, Port: req.Port}
		g.Go(func() error {
			u, err := r.ResolveOne(gctx, req.Scheme, req.Host, req.Port)
			results[i].URI = u
			results[i].Err = err
			return nil // never abort the batch; errors live in the Result
		})
	}
	_ = g.Wait()
	return results
}
