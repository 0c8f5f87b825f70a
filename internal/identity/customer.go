package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCustomerToken is returned when a session JWT fails verification.
var ErrInvalidCustomerToken = errors.New("invalid customer token")

// CustomerClaims are the claims of a storefront session token.
// Subject holds the customer id.
type CustomerClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// CustomerTokens verifies HS256 session tokens issued by the store.
type CustomerTokens struct {
	secret []byte
	parser *jwt.Parser
}

// NewCustomerTokens creates a verifier for secret.
func NewCustomerTokens(secret string) *CustomerTokens {
	return &CustomerTokens{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify returns the customer id carried by token.
func (c *CustomerTokens) Verify(token string) (string, error) {
	claims := &CustomerClaims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCustomerToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidCustomerToken
	}
	return claims.Subject, nil
}

// Issue signs a session token. The store normally issues these; the
// service uses it for local tooling and tests.
func (c *CustomerTokens) Issue(customerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
