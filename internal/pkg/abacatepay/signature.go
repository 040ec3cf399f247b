package abacatepay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Abacatepay-Signature"
	TimestampHeader = "X-Abacatepay-Timestamp"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrTimestampOutOfWindow = errors.New("invalid timestamp")
	ErrInvalidSignature     = errors.New("invalid signature")
)

// Sign returns the hex HMAC-SHA256 of "{timestamp}.{raw}".
func Sign(raw []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature. timestamp is in Unix seconds and must lie within
// tolerance of now.
func VerifySignature(raw []byte, timestamp, signature, secret string, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrTimestampOutOfWindow
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrTimestampOutOfWindow
	}

	sig, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || secret == "" {
		return ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(Sign(raw, strings.TrimSpace(timestamp), secret))
	if !hmac.Equal(expected, sig) {
		return ErrInvalidSignature
	}
	return nil
}
