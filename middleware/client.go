package middleware

import (
	"net"
	"net/http"

	"github.com/mnemoforge/authcore"
)

// ClientInfo stores the caller address and User-Agent in the request
// context. The address comes from r.RemoteAddr; put
// handlers.ProxyHeaders in front when a trusted proxy sets
// X-Forwarded-For.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), ClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
