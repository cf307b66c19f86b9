package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const signaturePrefix = "sha256="

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign is the HMAC-SHA256 of "<timestamp>.<body>" keyed by secret, hex
// encoded with a "sha256=" prefix.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify is the receiver side of Sign. Timestamps further than tolerance
// from now are rejected; zero tolerance disables that check.
func Verify(secret, timestamp string, body []byte, signature string, tolerance time.Duration) error {
	if tolerance > 0 {
		sent, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timestamp %q", ErrInvalidSignature, timestamp)
		}
		skew := time.Since(time.Unix(sent, 0))
		if skew.Abs() > tolerance {
			return fmt.Errorf("%w: timestamp is %s old", ErrInvalidSignature, skew.Round(time.Second))
		}
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
