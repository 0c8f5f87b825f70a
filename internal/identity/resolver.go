package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrNoIdentity is returned when a request carries neither a valid
// session token nor a valid guest cookie.
var ErrNoIdentity = errors.New("no client identity")

// Resolver builds a RequestContext from an incoming request.
type Resolver struct {
	signer    *Signer
	customers *CustomerTokens
}

// NewResolver creates a Resolver.
func NewResolver(signer *Signer, customers *CustomerTokens) *Resolver {
	return &Resolver{signer: signer, customers: customers}
}

// Signer returns the cookie and nonce signer.
func (r *Resolver) Signer() *Signer {
	return r.signer
}

// Resolve reads the session token and guest cookie.
//
// A present but invalid bearer token is an error: the caller claimed to be
// a customer and could not prove it. A tampered guest cookie is ignored.
// When neither identifies the visitor, the returned context has a zero
// Identity and ErrNoIdentity.
func (r *Resolver) Resolve(req *http.Request) (model.RequestContext, error) {
	var rc model.RequestContext

	if c, err := req.Cookie(GuestCookieName); err == nil {
		if token, err := r.signer.DecodeGuestCookie(c.Value); err == nil {
			rc.GuestToken = token
		}
	}

	if bearer := bearerToken(req); bearer != "" {
		customerID, err := r.customers.Verify(bearer)
		if err != nil {
			return rc, err
		}
		rc.Identity = model.UserIdentity(customerID)
		return rc, nil
	}

	if rc.GuestToken != "" {
		rc.Identity = model.GuestIdentity(rc.GuestToken)
		return rc, nil
	}

	return rc, ErrNoIdentity
}

// MintGuest assigns a fresh guest identity to rc.
func (r *Resolver) MintGuest(rc *model.RequestContext) error {
	token, err := NewGuestToken()
	if err != nil {
		return err
	}
	rc.Identity = model.GuestIdentity(token)
	rc.GuestToken = token
	rc.NewGuest = true
	return nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

type contextKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc model.RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the RequestContext stored by the identity middleware.
func FromContext(ctx context.Context) (model.RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(model.RequestContext)
	return rc, ok
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
