package security

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
	ClientTimestampHeader = "X-Client-Ts"
	ClientSignatureHeader = "X-Client-Hmac"
)

var (
	ErrMissingSignature = errors.New("missing client signature")
	ErrBadSignature     = errors.New("invalid client signature")
	ErrStaleSignature   = errors.New("client signature timestamp outside allowed window")
)

// SignRequest computes the hex HMAC-SHA256 of "{ts}.{body}".
func SignRequest(body []byte, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestVerifier checks client request signatures.
// An empty Secret disables verification. A zero MaxSkew disables the timestamp window.
type RequestVerifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func (v RequestVerifier) Enabled() bool {
	return v.Secret != ""
}

func (v RequestVerifier) Verify(body []byte, ts, signature string) error {
	if !v.Enabled() {
		return nil
	}
	ts = strings.TrimSpace(ts)
	signature = strings.TrimSpace(signature)
	if ts == "" || signature == "" {
		return ErrMissingSignature
	}

	if v.MaxSkew > 0 {
		sent, ok := parseClientTimestamp(ts)
		if !ok {
			return ErrStaleSignature
		}
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		skew := now().Sub(sent)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.MaxSkew {
			return ErrStaleSignature
		}
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(SignRequest(body, ts, v.Secret))
	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}

// parseClientTimestamp accepts Unix milliseconds (browser clients) or seconds.
func parseClientTimestamp(ts string) (time.Time, bool) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
