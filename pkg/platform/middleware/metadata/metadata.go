package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"vigil/pkg/requestcontext"
)

// ClientMetadata records the client IP and User-Agent in the request context.
// Apply early in the chain; the vault service derives the check-in channel
// from the User-Agent.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest returns the originating client address. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the peer address. Header
// values that are not IP addresses are skipped.
func ClientIPFromRequest(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
		if ip, ok := parseIP(candidate); ok {
			return ip
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
