package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/salesboost/exitintent/internal/identity"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		preflight      bool
		wantStatus     int
		wantHeader     string
	}{
		{
			name:          "no origins configured blocks all",
			requestOrigin: "https://shop.example.com",
			wantStatus:    http.StatusOK,
		},
		{
			name:           "allowed origin gets header",
			allowedOrigins: []string{"https://shop.example.com"},
			requestOrigin:  "https://shop.example.com",
			wantStatus:     http.StatusOK,
			wantHeader:     "https://shop.example.com",
		},
		{
			name:           "disallowed origin blocked on preflight",
			allowedOrigins: []string{"https://shop.example.com"},
			requestOrigin:  "https://evil.com",
			preflight:      true,
			wantStatus:     http.StatusForbidden,
		},
		{
			name:           "preflight returns no content",
			allowedOrigins: []string{"https://shop.example.com"},
			requestOrigin:  "https://shop.example.com",
			preflight:      true,
			wantStatus:     http.StatusNoContent,
			wantHeader:     "https://shop.example.com",
		},
		{
			name:           "case insensitive origin match",
			allowedOrigins: []string{"HTTPS://SHOP.EXAMPLE.COM"},
			requestOrigin:  "https://shop.example.com",
			wantStatus:     http.StatusOK,
			wantHeader:     "https://shop.example.com",
		},
		{
			name:           "wildcard subdomain",
			allowedOrigins: []string{"https://*.example.com"},
			requestOrigin:  "https://eu.example.com",
			wantStatus:     http.StatusOK,
			wantHeader:     "https://eu.example.com",
		},
		{
			name:           "wildcard does not match suffix lookalike",
			allowedOrigins: []string{"https://*.example.com"},
			requestOrigin:  "https://evilexample.com",
			wantStatus:     http.StatusOK,
		},
		{
			name:           "wildcard does not match other scheme",
			allowedOrigins: []string{"https://*.example.com"},
			requestOrigin:  "http://eu.example.com",
			wantStatus:     http.StatusOK,
		},
		{
			name:           "star is ignored",
			allowedOrigins: []string{"*"},
			requestOrigin:  "https://shop.example.com",
			wantStatus:     http.StatusOK,
		},
		{
			name:           "no origin header skips CORS",
			allowedOrigins: []string{"https://shop.example.com"},
			wantStatus:     http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultCORSConfig()
			cfg.AllowedOrigins = tt.allowedOrigins

			handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/v1/exit-intent/eligibility", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://shop.example.com"}

	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/exit-intent/coupon", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, identity.NonceHeader) {
		t.Errorf("Access-Control-Allow-Headers = %q, want nonce header", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}
