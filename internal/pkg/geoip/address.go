package geoip

import (
	"net"
	"net/netip"
	"strings"
)

// nonProductionPrefixes are loopback, RFC 1918, RFC 4193 and link-local ranges.
// Traffic from these is treated as internal and never recorded.
var nonProductionPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// NormalizeIP cleans a raw address taken from a header or socket. Quotes,
// zone identifiers and ports are removed and IPv4-mapped IPv6 addresses are
// unmapped, so "::ffff:8.8.8.8" becomes "8.8.8.8".
// An invalid netip.Addr is returned when the input is not an address.
func NormalizeIP(raw string) (string, netip.Addr) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"")
	if clean == "" {
		return "", netip.Addr{}
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		addr := addrPort.Addr().Unmap()
		return addr.String(), addr
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		addr = addr.Unmap()
		return addr.String(), addr
	}

	if host, _, err := net.SplitHostPort(clean); err == nil && host != clean {
		return NormalizeIP(host)
	}

	return "", netip.Addr{}
}

// IsNonProduction reports whether traffic from ip must be skipped.
// Addresses that cannot be parsed are treated as non-production as well,
// since no location or identity could be attached to them.
func IsNonProduction(ip string) bool {
	_, addr := NormalizeIP(ip)
	if !addr.IsValid() {
		return true
	}
	return isPrivate(addr)
}

func isPrivate(addr netip.Addr) bool {
	if addr.IsLoopback() || addr.IsUnspecified() {
		return true
	}
	for _, prefix := range nonProductionPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// PreferredPublicIP picks the first public IPv4 address from a list of
// candidates, falling back to the first public IPv6 address.
func PreferredPublicIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		clean, addr := NormalizeIP(raw)
		if !addr.IsValid() || isPrivate(addr) {
			continue
		}

		if addr.Is4() {
			return clean
		}

		if ipv6Fallback == "" {
			ipv6Fallback = clean
		}
	}

	return ipv6Fallback
}
