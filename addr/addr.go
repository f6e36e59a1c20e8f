// Package addr implements the address model: URI parsing, NAT remapping,
// and IPv6 canonicalization used throughout the topology manager.
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HostKind classifies the host portion of a URI.
type HostKind int

const (
	// HostHostname is a DNS name, not a literal address.
	HostHostname HostKind = iota
	// HostIPv4 is a dotted-quad literal.
	HostIPv4
	// HostIPv6 is a literal IPv6 address, stored in canonical compressed form.
	HostIPv6
)

// URI is the {scheme, host, port} triple that identifies a Sentinel, master,
// or replica endpoint. Equality is byte-exact on these three fields after
// normalization; see Equal.
type URI struct {
	Scheme string
	Host   string
	Port   int
	Kind   HostKind
}

// Parse parses a "scheme://host:port" address. The scheme defaults to "tcp"
// if omitted. IPv6 literals must be bracketed ("[::1]:6379") as in a URL.
func Parse(raw string) (URI, error) {
	scheme := "tcp"
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = raw[:i]
		rest = raw[i+3:]
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return URI{}, errors.Wrapf(err, "addr: parse %q", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return URI{}, errors.Wrapf(err, "addr: parse port in %q", raw)
	}

	return newURI(scheme, host, port), nil
}

// New builds a URI directly from an already-split host and port, applying
// the same host classification and IPv6 normalization as Parse.
func New(scheme, host string, port int) URI {
	return newURI(scheme, host, port)
}

func newURI(scheme, host string, port int) URI {
	u := URI{Scheme: scheme, Port: port}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			u.Host = ip4.String()
			u.Kind = HostIPv4
		} else {
			// ip.String() always produces the canonical compressed form,
			// so two textually different IPv6 literals that denote the
			// same address normalize to the same Host.
			u.Host = ip.String()
			u.Kind = HostIPv6
		}
		return u
	}
	u.Host = host
	u.Kind = HostHostname
	return u
}

// IsLiteral reports whether the host is an IP literal rather than a
// hostname. Literal addresses are immutable under DNS and are never
// registered for DNS monitoring (§4.8).
func (u URI) IsLiteral() bool {
	return u.Kind != HostHostname
}

// IsLocalhost reports whether the host is the "localhost" name, which
// bootstrap excludes from DNS-hostname tracking just like any other
// effectively-static name.
func (u URI) IsLocalhost() bool {
	return u.Kind == HostHostname && strings.EqualFold(u.Host, "localhost")
}

// Network returns the net.Dial-compatible network for this URI's scheme.
// "tcp" and "tcp4"/"tcp6" pass through; anything else is treated as "tcp".
func (u URI) Network() string {
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		return u.Scheme
	default:
		return "tcp"
	}
}

// String renders the URI back to "scheme://host:port" form, bracketing IPv6
// literals.
func (u URI) String() string {
	host := u.Host
	if u.Kind == HostIPv6 {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", u.Scheme, host, u.Port)
}

// HostPort renders "host:port" (bracketed for IPv6), the form accepted by
// net.Dial and net.JoinHostPort.
func (u URI) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// Equal reports byte-exact equality of scheme, host, and port. Both sides
// are assumed already normalized (produced via Parse/New/NATMapper), per
// the invariant in spec §3.
func (u URI) Equal(o URI) bool {
	return u.Scheme == o.Scheme && u.Host == o.Host && u.Port == o.Port
}

// Zero reports whether u is the zero value, used to detect an unset master
// cell without a separate boolean.
func (u URI) Zero() bool {
	return u == URI{}
}

// NATMapper rewrites a declared URI into the address actually used to
// dial a connection. The original URI is retained by callers as the
// "declared" key; only the mapped form is handed to the pool adapter.
type NATMapper func(URI) URI

// IdentityNAT is the default NATMapper: no remapping.
func IdentityNAT(u URI) URI { return u }

// FromHostPortMap builds a NATMapper from a static table of "host:port" to
// "host:port" rewrites, the common case for a NAT map supplied via
// configuration (spec §6 "nat-mapper").
func FromHostPortMap(table map[string]string) NATMapper {
	return func(u URI) URI {
		mapped, ok := table[u.HostPort()]
		if !ok {
			return u
		}
		host, portStr, err := net.SplitHostPort(mapped)
		if err != nil {
			return u
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return u
		}
		return newURI(u.Scheme, host, port)
	}
}
