package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// GuestCookieName is the cookie carrying the signed guest token.
const GuestCookieName = "ei_guest"

// ErrInvalidGuestCookie is returned for malformed or tampered cookies.
var ErrInvalidGuestCookie = errors.New("invalid guest cookie")

var guestTokenRegex = regexp.MustCompile(`^[a-f0-9]{32}$`)

// NewGuestToken returns 32 hex chars of crypto randomness.
func NewGuestToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate guest token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EncodeGuestCookie renders "<token>.<hmac>".
func (s *Signer) EncodeGuestCookie(token string) string {
	return token + "." + s.Sign("guest", token)
}

// DecodeGuestCookie verifies a cookie value and returns its token.
func (s *Signer) DecodeGuestCookie(value string) (string, error) {
	token, tag, ok := strings.Cut(value, ".")
	if !ok || !guestTokenRegex.MatchString(token) {
		return "", ErrInvalidGuestCookie
	}
	if !s.Verify(tag, "guest", token) {
		return "", ErrInvalidGuestCookie
	}
	return token, nil
}

// GuestCookie builds the Set-Cookie value for a guest token.
func (s *Signer) GuestCookie(token string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     GuestCookieName,
		Value:    s.EncodeGuestCookie(token),
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
