package services

import (
	"net"
	"strings"
)

// ClientAddr is what the transport knows about where a request came from.
type ClientAddr struct {
	Peer         string
	ForwardedFor string
	RealIP       string
}

// IP returns the address recorded for a sign-in attempt. Forwarded headers
// are consulted only when the proxy is trusted; the first X-Forwarded-For
// entry wins over X-Real-IP. Ports are dropped.
func (a ClientAddr) IP(trustProxy bool) *string {
	if trustProxy {
		if first, _, _ := strings.Cut(a.ForwardedFor, ","); strings.TrimSpace(first) != "" {
			return hostOnly(first)
		}
		if strings.TrimSpace(a.RealIP) != "" {
			return hostOnly(a.RealIP)
		}
	}
	if strings.TrimSpace(a.Peer) == "" {
		return nil
	}
	return hostOnly(a.Peer)
}

func hostOnly(addr string) *string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return &addr
}
