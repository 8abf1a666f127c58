package router

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP reports the address of the client for logging. Forwarding headers
// are honoured only when the peer is one of the trusted proxies.
type clientIP struct {
	trusted []netip.Prefix
}

func newClientIP(trustedProxies []string) (*clientIP, error) {
	var trusted []netip.Prefix
	for _, s := range trustedProxies {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", s, err)
			}
			trusted = append(trusted, p.Masked())
			continue
		}

		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", s, err)
		}
		trusted = append(trusted, netip.PrefixFrom(a, a.BitLen()))
	}
	return &clientIP{trusted: trusted}, nil
}

func (c *clientIP) Extract(r *http.Request) string {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !c.isTrusted(peer) {
		return peer.String()
	}

	for p := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
		if a, ok := parseAddr(strings.TrimSpace(p)); ok {
			return a.String()
		}
	}
	if a, ok := parseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return a.String()
	}
	return peer.String()
}

func (c *clientIP) isTrusted(a netip.Addr) bool {
	if c == nil {
		return false
	}
	for _, p := range c.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// parseAddr accepts "ip", "ip:port" and "[ipv6]:port", dropping any zone.
func parseAddr(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.WithZone("").Unmap(), true
}
