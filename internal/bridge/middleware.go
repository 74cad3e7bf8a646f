package bridge

import (
	"net/http"
	"path"
	"strings"

	"golang.org/x/time/rate"
)

// OriginPolicy decides which browser origins may call the bridge. Requests without an Origin
// header (the CLI, tests) are always allowed.
type OriginPolicy struct {
	any     bool
	origins []string
}

// NewOriginPolicy allows the listed origins. An entry may be a glob such as
// "chrome-extension://*" or "http://localhost:*"; "*" alone allows every origin.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.any = true
			continue
		}
		if o != "" {
			p.origins = append(p.origins, strings.ToLower(o))
		}
	}
	return p
}

// Allowed reports whether a request from origin is accepted.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	for _, pattern := range p.origins {
		if pattern == origin {
			return true
		}
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// CORS answers preflights and echoes allowed origins.
func (p *OriginPolicy) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !p.Allowed(origin) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit rejects requests beyond limit per second with 429. A non-positive limit disables it.
func RateLimit(limit float64, burst int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(limit), max(burst, 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
