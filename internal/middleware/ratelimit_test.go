package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingLimiter struct {
	mu    sync.Mutex
	calls []string
	res   *cache.RateLimitResult
	err   error
}

func (l *countingLimiter) CheckIPRateLimit(ctx context.Context, ip string, max int, window time.Duration) (*cache.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ip)
	return l.res, l.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exit-intent/coupon", nil)
	req.RemoteAddr = ip + ":51234"
	return req
}

func TestRateLimitIP_RedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	recorder := metrics.NewInMemory()
	handler := RateLimitIP(RateLimitConfig{
		Logger:  discardLogger(),
		Limiter: cache.NewWithClient(client),
		Metrics: recorder,
		Enabled: true,
		Max:     5,
		Window:  time.Hour,
	})(okHandler())

	for i := 1; i <= 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.9"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.9"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", body["code"])
	}
	if recorder.Snapshot().RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", recorder.Snapshot().RateLimited)
	}

	// The window resets.
	mr.FastForward(time.Hour + time.Second)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.9"))
	if rec.Code != http.StatusOK {
		t.Errorf("after window: status = %d, want 200", rec.Code)
	}

	// Other clients are unaffected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("198.51.100.4"))
	if rec.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", rec.Code)
	}
}

func TestRateLimitIP_BypassAndDisabled(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		bypass    bool
		ip        string
		wantCalls int
	}{
		{name: "disabled", enabled: false, ip: "203.0.113.9", wantCalls: 0},
		{name: "loopback bypass", enabled: true, bypass: true, ip: "127.0.0.1", wantCalls: 0},
		{name: "private bypass", enabled: true, bypass: true, ip: "10.1.2.3", wantCalls: 0},
		{name: "ipv6 loopback bypass", enabled: true, bypass: true, ip: "[::1]", wantCalls: 0},
		{name: "public is limited", enabled: true, bypass: true, ip: "203.0.113.9", wantCalls: 1},
		{name: "no bypass when off", enabled: true, bypass: false, ip: "127.0.0.1", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			limiter := &countingLimiter{res: &cache.RateLimitResult{Allowed: true, Remaining: 4}}
			handler := RateLimitIP(RateLimitConfig{
				Logger:      discardLogger(),
				Limiter:     limiter,
				Enabled:     tt.enabled,
				Max:         5,
				Window:      time.Hour,
				BypassLocal: tt.bypass,
			})(okHandler())

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestFrom(tt.ip))

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if len(limiter.calls) != tt.wantCalls {
				t.Errorf("limiter calls = %d, want %d", len(limiter.calls), tt.wantCalls)
			}
		})
	}
}

func TestRateLimitIP_FailOpen(t *testing.T) {
	limiter := &countingLimiter{
		res: &cache.RateLimitResult{Allowed: true, Remaining: 5},
		err: errors.New("redis down"),
	}
	handler := RateLimitIP(RateLimitConfig{
		Logger:  discardLogger(),
		Limiter: limiter,
		Enabled: true,
		Max:     5,
		Window:  time.Hour,
	})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.9"))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter fails", rec.Code)
	}
}

func TestClientIP_IgnoresForwardedHeaders(t *testing.T) {
	req := requestFrom("203.0.113.9")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("X-Real-IP", "127.0.0.1")

	if got := ClientIP(req); got != "203.0.113.9" {
		t.Errorf("ClientIP() = %q, want remote address", got)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
