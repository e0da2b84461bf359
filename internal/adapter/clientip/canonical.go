// Package clientip resolves and canonicalizes client addresses from request
// metadata and hashes them for unique-visitor counting.
package clientip

import (
	"net"
	"net/netip"
	"strings"
)

var (
	cgnatPrefix      = netip.MustParsePrefix("100.64.0.0/10")
	thisNetPrefix    = netip.MustParsePrefix("0.0.0.0/8")
	reservedV4Prefix = netip.MustParsePrefix("240.0.0.0/4")
)

// Canonicalize rewrites an address to its canonical text form. IPv4-mapped
// IPv6 addresses become dotted IPv4 and zones are dropped. Input that does not
// parse is returned unchanged.
func Canonicalize(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return addr.Unmap().WithZone("").String()
}

// canonicalPeer strips the port (and brackets) from a socket address before canonicalizing.
func canonicalPeer(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return Canonicalize(host)
	}
	return Canonicalize(strings.Trim(remoteAddr, "[]"))
}

// IsPublic reports whether s parses as an address outside the private, loopback,
// link-local, unique-local, reserved and carrier-grade NAT classes.
func IsPublic(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return !isExcluded(addr.Unmap())
}

func isExcluded(addr netip.Addr) bool {
	switch {
	case addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(), // 10/8, 172.16/12, 192.168/16, fc00::/7
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast():
		return true
	}
	if addr.Is4() {
		return cgnatPrefix.Contains(addr) || thisNetPrefix.Contains(addr) || reservedV4Prefix.Contains(addr)
	}
	return false
}

func isLoopback(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Unmap().IsLoopback()
}
