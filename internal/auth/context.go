// Package auth authenticates admin console API keys.
package auth

import (
	"context"

	"github.com/salesboost/exitintent/internal/model"
)

type contextKey string

const authContextKey contextKey = "admin_auth"

// ContextWithAuth adds AuthContext to the context.
func ContextWithAuth(ctx context.Context, auth *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext retrieves AuthContext from the context.
// Returns nil if not present.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	auth, ok := ctx.Value(authContextKey).(*model.AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// KeyIDFromContext returns the authenticated key's ID, or "".
func KeyIDFromContext(ctx context.Context) string {
	if auth := AuthFromContext(ctx); auth != nil {
		return auth.KeyID
	}
	return ""
}
