package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Headers carried by signed store webhooks.
const (
	SignatureHeader = "X-Store-Signature"
	TimestampHeader = "X-Store-Timestamp"
)

// DefaultReplayWindow is the default replay protection window.
const DefaultReplayWindow = 5 * time.Minute

var (
	// ErrReplayWindowExceeded is returned when timestamp is outside replay window.
	ErrReplayWindowExceeded = errors.New("timestamp outside replay window")
	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidTimestamp is returned when the timestamp header is not a Unix time.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// GenerateSignature creates the HMAC-SHA256 signature of a webhook body.
// The canonical string format is: "{timestamp}.{body}"
func GenerateSignature(secret string, timestamp int64, body []byte) string {
	canonical := fmt.Sprintf("%d.%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseTimestamp parses the timestamp header value.
func ParseTimestamp(value string) (int64, error) {
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ts <= 0 {
		return 0, ErrInvalidTimestamp
	}
	return ts, nil
}

// ValidateSignature verifies a webhook signature with replay protection.
func ValidateSignature(secret, signature string, timestamp int64, body []byte, window time.Duration, now time.Time) error {
	if abs(now.Unix()-timestamp) > int64(window.Seconds()) {
		return ErrReplayWindowExceeded
	}

	expected := GenerateSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
