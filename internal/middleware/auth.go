package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/salesboost/exitintent/internal/auth"
	"github.com/salesboost/exitintent/internal/model"
)

const (
	// minAuthDuration is the minimum time spent on every admin auth attempt.
	minAuthDuration = 200 * time.Millisecond
	// lastUsedTimeout bounds the background last_used_at update.
	lastUsedTimeout = 5 * time.Second
)

// APIKeyStore looks up admin keys.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// AuthCache caches verified admin keys so argon2 runs once per TTL.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// AuthConfig holds configuration for the admin auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   APIKeyStore
	Cache  AuthCache
	// MinDuration overrides minAuthDuration; tests set it to 0.
	MinDuration *time.Duration
}

// Auth returns a middleware that authenticates admin API requests.
// It reads the key from the Authorization or X-API-Key header, verifies
// it, and injects the auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	minDuration := minAuthDuration
	if cfg.MinDuration != nil {
		minDuration = *cfg.MinDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			fail := func(reason string) {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(ctx)),
				)
				padAuth(ctx, time.Now(), minDuration)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
			}
			start := time.Now()

			key := extractAPIKey(r)
			if key == "" {
				fail("missing_key")
				return
			}

			parsed, err := auth.ParseAPIKey(key)
			if err != nil {
				fail("invalid_format")
				return
			}

			cacheKey := auth.CacheKey(key)
			if authCtx, _ := cfg.Cache.GetAuthContext(ctx, cacheKey); authCtx != nil {
				cfg.Logger.Debug("authentication successful",
					slog.String("key_id", authCtx.KeyID),
					slog.Bool("cache_hit", true),
					slog.String("request_id", GetRequestID(ctx)),
				)
				next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(ctx, authCtx)))
				return
			}

			keys, err := cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(ctx)),
				)
				fail("lookup_error")
				return
			}

			// Prefixes may collide; try every candidate.
			var matched *model.APIKey
			for _, k := range keys {
				if k.IsRevoked() {
					continue
				}
				if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
					matched = k
					break
				}
			}
			if matched == nil {
				fail("invalid_key")
				return
			}

			authCtx := &model.AuthContext{
				KeyID:     matched.ID,
				KeyPrefix: matched.KeyPrefix,
				Name:      matched.Name,
				Scopes:    matched.Scopes,
			}
			if err := cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
				cfg.Logger.Warn("failed to cache auth context", slog.String("error", err.Error()))
			}

			go func(id string) {
				bg, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
				defer cancel()
				if err := cfg.Keys.UpdateAPIKeyLastUsed(bg, id); err != nil {
					cfg.Logger.Warn("failed to update key last_used_at",
						slog.String("key_id", id),
						slog.String("error", err.Error()),
					)
				}
			}(matched.ID)

			cfg.Logger.Info("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.Bool("cache_hit", false),
				slog.String("request_id", GetRequestID(ctx)),
			)

			padAuth(ctx, start, minDuration)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(ctx, authCtx)))
		})
	}
}

// padAuth sleeps until d has passed since start so failures and uncached
// successes take the same time.
func padAuth(ctx context.Context, start time.Time, d time.Duration) {
	remaining := d - time.Since(start)
	if remaining <= 0 {
		return
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// extractAPIKey supports "Authorization: Bearer <key>" and "X-API-Key: <key>".
func extractAPIKey(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
