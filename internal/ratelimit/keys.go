package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives a rate-limit identity from a request. Strategies are chosen
// per endpoint class.
type KeyFunc func(r *http.Request) string

// ByIP keys on the client network address.
func ByIP(r *http.Request) string {
	return "ip:" + clientIP(r)
}

// ByUserOrIP keys on the authenticated user id, falling back to the network
// address for anonymous callers. Token validation happens upstream; the
// gateway injects the subject in X-User-ID.
func ByUserOrIP(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return "user:" + user
	}
	return "ip:" + clientIP(r)
}

// ByIPAndRoute keys on address plus route for per-endpoint throttling
// independent of business identity.
func ByIPAndRoute(r *http.Request) string {
	return "ip:" + clientIP(r) + ":" + r.Method + ":" + r.URL.Path
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
