package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
)

// WriteHeaders sets the X-RateLimit-* headers, plus Retry-After when the
// request was refused.
func WriteHeaders(w http.ResponseWriter, res Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}

// ClientIP returns the originating client address, honouring X-Forwarded-For
// and X-Real-IP set by a reverse proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if strings.HasPrefix(addr, "[") {
		if host, _, ok := strings.Cut(addr, "]:"); ok {
			return host[1:]
		}
		return strings.Trim(addr, "[]")
	}
	if host, _, ok := strings.Cut(addr, ":"); ok {
		return host
	}
	return addr
}

// Key returns the bucket key for a tier and client.
func Key(tier, ip string) string {
	return "ip:" + ip + ":" + tier
}
