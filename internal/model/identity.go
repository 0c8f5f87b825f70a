// Package model defines domain entities for the application.
package model

import (
	"errors"
	"strings"
)

// IdentityKind discriminates the two visitor identity variants.
type IdentityKind string

const (
	IdentityUser  IdentityKind = "user"
	IdentityGuest IdentityKind = "guest"
)

// ErrInvalidIdentity is returned when an identity string cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is either an authenticated customer or a guest carrying a cookie token.
type Identity struct {
	Kind IdentityKind
	// ID holds the customer id for users and the guest token for guests.
	ID string
}

// UserIdentity returns the identity of an authenticated customer.
func UserIdentity(customerID string) Identity {
	return Identity{Kind: IdentityUser, ID: customerID}
}

// GuestIdentity returns the identity of a guest visitor.
func GuestIdentity(token string) Identity {
	return Identity{Kind: IdentityGuest, ID: token}
}

// IsUser reports whether the identity belongs to an authenticated customer.
func (i Identity) IsUser() bool {
	return i.Kind == IdentityUser && i.ID != ""
}

// IsGuest reports whether the identity belongs to a guest.
func (i Identity) IsGuest() bool {
	return i.Kind == IdentityGuest && i.ID != ""
}

// IsZero reports whether no identity was resolved.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Key renders the identity as "user:<id>" or "guest:<token>".
// Used for cart keys, locks and the coupon issued_to column.
func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.ID
}

// LogValue returns a form safe for logs; guest tokens are truncated.
func (i Identity) LogValue() string {
	if i.Kind == IdentityGuest && len(i.ID) > 8 {
		return string(i.Kind) + ":" + i.ID[:8] + "…"
	}
	return i.Key()
}

// ParseIdentity parses the output of Key.
func ParseIdentity(s string) (Identity, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Identity{}, ErrInvalidIdentity
	}
	switch IdentityKind(kind) {
	case IdentityUser, IdentityGuest:
		return Identity{Kind: IdentityKind(kind), ID: id}, nil
	default:
		return Identity{}, ErrInvalidIdentity
	}
}

// RequestContext carries everything a handler needs from the incoming request.
// It is built once by middleware and passed explicitly to the service layer.
type RequestContext struct {
	Identity Identity
	// GuestToken is the verified guest cookie token, set even when the
	// visitor is also logged in so state can be migrated.
	GuestToken string
	// NewGuest is true when the guest token was minted on this request.
	NewGuest bool
	ClientIP string
}
