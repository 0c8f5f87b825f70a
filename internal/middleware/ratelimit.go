package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/metrics"
)

// IPLimiter counts requests per client IP in fixed windows.
type IPLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip string, max int, window time.Duration) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter IPLimiter
	Metrics metrics.Recorder
	Enabled bool
	// Max requests per Window from one IP.
	Max    int
	Window time.Duration
	// BypassLocal skips loopback, private and link-local addresses.
	BypassLocal bool
}

// RateLimitIP returns middleware that rate limits requests per client IP.
// Redis errors fail open.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if cfg.BypassLocal && isLocalIP(ip) {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.Max, cfg.Window)
			if err != nil {
				cfg.Logger.Error("IP rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, cfg.Max, result.Remaining, result.ResetAt)

			if !result.Allowed {
				recorder.IncRateLimited()
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("count", result.Count),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// writeRateLimitError writes a 429 Too Many Requests response.
func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Too many requests. Retry after %d seconds.", retryAfterSeconds(retryAfter)))
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ClientIP returns the host part of the request's remote address. Proxy
// headers are honoured only when chi's RealIP middleware ran before.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isLocalIP reports loopback, private, link-local and unspecified addresses.
func isLocalIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
