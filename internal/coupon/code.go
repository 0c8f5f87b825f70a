// Package coupon generates exit-intent discount codes and builds coupon records.
package coupon

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// suffixLength is the number of random characters after the prefix.
	suffixLength = 8
	// suffixAlphabet drops 0/O and 1/I so codes survive being read aloud.
	suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// maxCodeAttempts bounds existence checks before falling back to a ULID suffix.
	maxCodeAttempts = 3
)

// ExistsFunc reports whether a code is already in the coupon index.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// randomSuffix is a var for test injection.
var randomSuffix = cryptoSuffix

// GenerateUniqueCode returns prefix + suffix that exists() has not seen.
// The first attempt uses a plain random suffix, later attempts mix in the
// timestamp, and after maxCodeAttempts collisions a ULID suffix is used,
// which is unique without a lookup.
func GenerateUniqueCode(ctx context.Context, prefix string, exists ExistsFunc, now time.Time) (string, error) {
	prefix = strings.ToUpper(prefix)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix, err := randomSuffix(suffixLength)
		if err != nil {
			return "", fmt.Errorf("generate suffix: %w", err)
		}
		if attempt > 0 {
			suffix = saltSuffix(suffix, now, attempt)
		}

		code := prefix + suffix
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return prefix + ulid.Make().String(), nil
}

// cryptoSuffix draws n characters from suffixAlphabet using crypto/rand.
func cryptoSuffix(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = suffixAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// saltSuffix rehashes a suffix with the timestamp and attempt number.
func saltSuffix(suffix string, now time.Time, attempt int) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], uint64(attempt))

	h := sha256.New()
	h.Write([]byte(suffix))
	h.Write(buf[:])
	sum := h.Sum(nil)

	out := make([]byte, len(suffix))
	for i := range out {
		out[i] = suffixAlphabet[int(sum[i])%len(suffixAlphabet)]
	}
	return string(out)
}
