package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{name: "generated when absent", incoming: "", wantSame: false},
		{name: "reused when valid", incoming: "req-1234", wantSame: true},
		{name: "replaced when too long", incoming: strings.Repeat("a", 65), wantSame: false},
		{name: "replaced when it has spaces", incoming: "req 1234", wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("header %q != context %q", got, seen)
			}
			if tt.wantSame {
				if seen != tt.incoming {
					t.Errorf("request id = %q, want %q", seen, tt.incoming)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("request id %q is not a UUID", seen)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	handler := RequestID(Recoverer(discardLogger(), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exit-intent/eligibility", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
