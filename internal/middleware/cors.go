package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/salesboost/exitintent/internal/identity"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists storefront origins. Entries of the form
	// "https://*.example.com" match any subdomain.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	// AllowCredentials lets the storefront send the guest cookie.
	// Never combined with a "*" origin.
	AllowCredentials bool
	// MaxAge for preflight results, in seconds.
	MaxAge int
}

// DefaultCORSConfig returns defaults for a storefront calling the offer API.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			RequestIDHeader,
			identity.NonceHeader,
		},
		ExposedHeaders: []string{
			RequestIDHeader,
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing,
// including preflight OPTIONS requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}
	matcher := newOriginMatcher(cfg.AllowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")

			if !matcher.allowed(origin) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				// The browser blocks the response without CORS headers.
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				if maxAge != "" {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type originMatcher struct {
	exact map[string]bool
	// wildcard suffixes keep their scheme, e.g. "https://" + ".example.com".
	wildcards [][2]string
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "" || o == "*" {
			continue
		}
		if scheme, host, ok := strings.Cut(o, "://*."); ok {
			m.wildcards = append(m.wildcards, [2]string{scheme + "://", "." + host})
			continue
		}
		m.exact[o] = true
	}
	return m
}

func (m originMatcher) allowed(origin string) bool {
	origin = strings.ToLower(origin)
	if m.exact[origin] {
		return true
	}
	for _, wc := range m.wildcards {
		rest, ok := strings.CutPrefix(origin, wc[0])
		if !ok {
			continue
		}
		sub, ok := strings.CutSuffix(rest, wc[1])
		if ok && sub != "" && !strings.ContainsAny(sub, "/:@") {
			return true
		}
	}
	return false
}
