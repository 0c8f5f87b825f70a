package identity

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// CookieRefresher re-issues the guest cookie with the given lifetime.
type CookieRefresher func(ttl time.Duration)

type refresherKey struct{}

// WithCookieRefresher attaches fn to ctx. A nil fn detaches any refresher,
// which callers use for work that outlives the request.
func WithCookieRefresher(ctx context.Context, fn CookieRefresher) context.Context {
	return context.WithValue(ctx, refresherKey{}, fn)
}

// RefreshGuestCookie re-issues the guest cookie of the request behind ctx.
// It reports false when no response is available to carry the cookie.
func RefreshGuestCookie(ctx context.Context, ttl time.Duration) bool {
	fn, _ := ctx.Value(refresherKey{}).(CookieRefresher)
	if fn == nil {
		return false
	}
	fn(ttl)
	return true
}

// ReplaceCookie sets c on w, dropping any Set-Cookie already queued for the
// same name.
func ReplaceCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	kept := h["Set-Cookie"][:0]
	for _, v := range h["Set-Cookie"] {
		if !strings.HasPrefix(v, c.Name+"=") {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		h.Del("Set-Cookie")
	} else {
		h["Set-Cookie"] = kept
	}
	http.SetCookie(w, c)
}
