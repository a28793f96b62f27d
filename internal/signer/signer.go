// Package signer computes and checks the HMAC-SHA256 signatures AutoSMS attaches
// to API responses and webhook deliveries.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether candidate is the signature of payload under secret.
// An empty secret or candidate never verifies.
func Verify(payload []byte, secret, candidate string) bool {
	if secret == "" {
		return false
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	return ConstantTimeEqual(Sign(payload, secret), candidate)
}

// ConstantTimeEqual compares a and b in time proportional to the longer of the
// two. Unlike subtle.ConstantTimeCompare it does not return early on a length
// mismatch, and no byte position ends the scan.
func ConstantTimeEqual(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	sameBytes := subtle.ConstantTimeByteEq(diff, 0)
	return sameLen&sameBytes == 1
}
