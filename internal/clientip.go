package internal

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ParsePrefixes parses CIDRs or bare addresses. A bare address becomes a
// single-host prefix.
func ParsePrefixes(specs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if strings.Contains(spec, "/") {
			p, err := netip.ParsePrefix(spec)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", spec, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(spec)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", spec, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ClientIP returns the caller address. X-Forwarded-For and X-Real-IP are only
// read when the connection comes from a trusted proxy; the forwarded chain is
// walked from the right and the first hop that is not itself a trusted proxy
// wins. With no trusted proxies the connection address is always used.
func ClientIP(trusted []netip.Prefix, forwardedFor, realIP, remoteAddr string) string {
	peer := remoteHost(remoteAddr)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !containsAddr(trusted, addr) {
		return peer
	}

	var leftmost string
	hops := strings.Split(forwardedFor, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" || strings.EqualFold(hop, "unknown") {
			continue
		}
		a, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		if !containsAddr(trusted, a) {
			return a.Unmap().String()
		}
		leftmost = a.Unmap().String()
	}

	if a, err := netip.ParseAddr(strings.TrimSpace(realIP)); err == nil {
		return a.Unmap().String()
	}
	if leftmost != "" {
		return leftmost
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
