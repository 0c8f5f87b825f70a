package model

import (
	"slices"
	"time"
)

// Scope constants for admin API keys.
const (
	ScopeSettingsRead = "settings:read"
	ScopeAdmin        = "admin"
)

// ValidScopes contains all valid scope values.
var ValidScopes = []string{ScopeSettingsRead, ScopeAdmin}

// IsValidScope checks a single scope value.
func IsValidScope(scope string) bool {
	return slices.Contains(ValidScopes, scope)
}

// APIKey is an admin console credential.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// AuthContext is what the admin auth middleware attaches to the request.
type AuthContext struct {
	KeyID     string
	KeyPrefix string
	Name      string
	Scopes    []string
}

// HasScope checks a scope; admin implies every scope.
func (a *AuthContext) HasScope(scope string) bool {
	if slices.Contains(a.Scopes, ScopeAdmin) {
		return true
	}
	return slices.Contains(a.Scopes, scope)
}
