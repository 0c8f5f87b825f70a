package middleware

import (
	"net/http"

	"github.com/salesboost/exitintent/internal/auth"
	"github.com/salesboost/exitintent/internal/model"
)

// RequireScope returns middleware that enforces scope requirements.
// Must be applied after Auth. Having any of the listed scopes is enough;
// the admin scope satisfies all of them.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			for _, scope := range required {
				if authCtx.HasScope(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: "+required[0])
		})
	}
}

// RequireSettingsRead allows keys that may read settings and visitor state.
func RequireSettingsRead() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeSettingsRead)
}

// RequireAdmin allows keys that may change settings.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeAdmin)
}
