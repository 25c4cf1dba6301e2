package recovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Resolver resolves hostnames to IP addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// screenHost resolves the host and rejects it when any resolved address falls
// in a non-public range. An unresolvable host is rejected too: the screen
// fails closed.
func screenHost(ctx context.Context, resolver Resolver, host string) error {
	// Literal IPs skip DNS.
	if addr, err := netip.ParseAddr(host); err == nil {
		if !publicAddr(addr) {
			return fmt.Errorf("address %s is not publicly routable", addr)
		}
		return nil
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, addr := range addrs {
		if !publicAddr(addr) {
			return fmt.Errorf("%s resolves to non-public address %s", host, addr)
		}
	}
	return nil
}

// publicAddr reports whether the address is plausibly reachable on the public
// internet. Loopback, private, link-local, multicast, unspecified and the
// reserved documentation/benchmark ranges are all refused.
func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return false
	}
	for _, cidr := range reservedRanges {
		if cidr.Contains(addr) {
			return false
		}
	}
	return true
}

var reservedRanges = mustPrefixes(
	"100.64.0.0/10",  // carrier-grade NAT
	"192.0.0.0/24",   // IETF protocol assignments
	"192.0.2.0/24",   // TEST-NET-1
	"198.18.0.0/15",  // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24", // TEST-NET-3
	"240.0.0.0/4",    // reserved
	"64:ff9b::/96",   // NAT64
	"100::/64",       // discard
	"2001:db8::/32",  // documentation
	"fc00::/7",       // unique local
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		out = append(out, netip.MustParsePrefix(cidr))
	}
	return out
}

// guardedDialContext wraps a dialer so that even a DNS answer that changed
// between the screen and the connect cannot reach a non-public address.
func guardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			addr, ok := netip.AddrFromSlice(tcpAddr.IP)
			if ok && !publicAddr(addr) {
				_ = conn.Close()
				return nil, fmt.Errorf("refusing connection to non-public address %s", tcpAddr.IP)
			}
		}
		return conn, nil
	}
}
