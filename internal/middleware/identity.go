package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/salesboost/exitintent/internal/identity"
)

// GuestTTLSource returns the current guest token lifetime.
type GuestTTLSource interface {
	GuestTTL(ctx context.Context) time.Duration
}

// IdentityConfig holds configuration for the storefront identity middleware.
type IdentityConfig struct {
	Logger   *slog.Logger
	Resolver *identity.Resolver
	TTL      GuestTTLSource
	// SecureCookies sets the Secure attribute on the guest cookie.
	SecureCookies bool
}

// Identity resolves the visitor of every storefront request.
//
// Customers are identified by their bearer token and guests by the signed
// ei_guest cookie. A visitor with neither gets a fresh guest token and the
// cookie is set on the response. A bearer token that fails verification is
// rejected with 401.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			rc, err := cfg.Resolver.Resolve(r)
			switch {
			case err == nil:
			case errors.Is(err, identity.ErrNoIdentity):
				if err := cfg.Resolver.MintGuest(&rc); err != nil {
					cfg.Logger.Error("failed to mint guest token",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(ctx)),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
					return
				}
				cookie := cfg.Resolver.Signer().GuestCookie(rc.GuestToken, cfg.TTL.GuestTTL(ctx), cfg.SecureCookies)
				http.SetCookie(w, cookie)
			default:
				cfg.Logger.Warn("invalid customer token",
					slog.String("ip", ClientIP(r)),
					slog.String("request_id", GetRequestID(ctx)),
				)
				writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Invalid session token")
				return
			}

			rc.ClientIP = ClientIP(r)
			noteIdentity(r, rc.Identity.LogValue())

			ctx = identity.WithRequestContext(ctx, rc)
			if rc.Identity.IsGuest() {
				// Guest state and cookie expire together; writes re-issue the cookie.
				token := rc.GuestToken
				ctx = identity.WithCookieRefresher(ctx, func(ttl time.Duration) {
					identity.ReplaceCookie(w, cfg.Resolver.Signer().GuestCookie(token, ttl, cfg.SecureCookies))
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NonceClock returns the current time; nil means time.Now.
type NonceClock func() time.Time

// RequireNonce rejects state-changing storefront requests that do not carry
// a valid X-EI-Nonce for the resolved identity. Must run after Identity.
func RequireNonce(signer *identity.Signer, now NonceClock) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := identity.FromContext(r.Context())
			if !ok || rc.Identity.IsZero() {
				writeError(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Client identity required")
				return
			}
			if !signer.VerifyNonce(rc.Identity, r.Header.Get(identity.NonceHeader), now()) {
				writeError(w, http.StatusForbidden, "INVALID_NONCE", "Invalid or expired nonce")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
