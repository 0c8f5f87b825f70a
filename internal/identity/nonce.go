package identity

import (
	"strconv"
	"time"

	"github.com/salesboost/exitintent/internal/model"
)

// NonceHeader carries the CSRF nonce on mutating storefront requests.
const NonceHeader = "X-EI-Nonce"

// NonceTick is the nonce rotation period. A nonce stays valid for the tick
// it was issued in and the following one.
const NonceTick = 12 * time.Hour

const nonceLength = 24

func tick(now time.Time) int64 {
	return now.Unix() / int64(NonceTick/time.Second)
}

func (s *Signer) nonceAt(id model.Identity, t int64) string {
	return s.Sign("nonce", strconv.FormatInt(t, 10), id.Key())[:nonceLength]
}

// Nonce returns the current nonce for id.
func (s *Signer) Nonce(id model.Identity, now time.Time) string {
	return s.nonceAt(id, tick(now))
}

// VerifyNonce accepts nonces from the current and the previous tick.
func (s *Signer) VerifyNonce(id model.Identity, nonce string, now time.Time) bool {
	if id.IsZero() || len(nonce) != nonceLength {
		return false
	}
	t := tick(now)
	return constantEqual(nonce, s.nonceAt(id, t)) || constantEqual(nonce, s.nonceAt(id, t-1))
}
