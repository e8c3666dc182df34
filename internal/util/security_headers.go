package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders sets the gateway's response headers. Every response is
// JSON or MP3 for one user, so nothing may be framed, sniffed or cached.
// HSTS is sent on direct TLS, or on X-Forwarded-Proto: https from a trusted
// proxy.
func WithSecurityHeaders(next http.Handler, trusted *TrustedProxies) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")

		if servedOverHTTPS(r, trusted) {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func servedOverHTTPS(r *http.Request, trusted *TrustedProxies) bool {
	if r.TLS != nil {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return false
	}
	remote, ok := parseRemoteAddr(r.RemoteAddr)
	return ok && trusted.Contains(remote)
}
