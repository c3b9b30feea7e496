package http

import (
	"net/http"
	"strings"
)

// Route pairs a path pattern with the payment gate configuration for
// requests matching it. Patterns are exact paths ("/premium/report") or
// "/*" suffix wildcards ("/premium/*", which matches "/premium" and
// everything under it).
type Route struct {
	Pattern string
	Config  *Config
}

// MatchPattern reports whether path matches pattern: exact equality, or a
// "/*" suffix wildcard covering the prefix itself and anything below it.
func MatchPattern(path, pattern string) bool {
	if path == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return false
}

// NewRouteMiddleware builds a middleware that gates only requests matching
// one of the routes; unmatched paths pass through untouched. Routes are
// evaluated in order and the first matching pattern supplies the
// configuration.
func NewRouteMiddleware(routes []Route) func(http.Handler) http.Handler {
	gates := make([]*gate, len(routes))
	for i := range routes {
		gates[i] = newGate(routes[i].Config)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for i := range routes {
				if MatchPattern(r.URL.Path, routes[i].Pattern) {
					gates[i].serve(w, r, next)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
