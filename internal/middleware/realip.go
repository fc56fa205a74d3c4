package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RealIPMiddleware sets X-Real-IP to the client address. Forwarding headers
// are believed only when the direct peer is a configured proxy; otherwise
// any client-supplied X-Real-IP is overwritten with the peer address.
type RealIPMiddleware struct {
	proxies []netip.Prefix
}

// NewRealIPMiddleware takes proxy addresses ("192.168.1.1") and ranges
// ("10.0.0.0/8"). Entries that parse as neither are skipped.
func NewRealIPMiddleware(trustedProxies []string) *RealIPMiddleware {
	m := &RealIPMiddleware{}
	for _, s := range trustedProxies {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			m.proxies = append(m.proxies, p.Masked())
		} else if a, err := netip.ParseAddr(s); err == nil {
			a = a.Unmap()
			m.proxies = append(m.proxies, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return m
}

func (m *RealIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Set("X-Real-IP", m.clientIP(r))
		next.ServeHTTP(w, r)
	})
}

func (m *RealIPMiddleware) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !m.fromProxy(peer) {
		return peer
	}
	// Cloudflare sets a single address; X-Forwarded-For lists the client first.
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return peer
}

func (m *RealIPMiddleware) fromProxy(peer string) bool {
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
