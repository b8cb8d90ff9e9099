// Package payment verifies payment-gateway callbacks before coins are credited.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrNotConfigured is returned when no signing secret is set.
	ErrNotConfigured = errors.New("payment verification is not configured")
	// ErrInvalidSignature is returned when the signature does not match.
	ErrInvalidSignature = errors.New("invalid payment signature")
)

// Verifier checks gateway signatures of the form hex(HMAC-SHA256(orderID|paymentID, secret)).
type Verifier struct {
	secret string
}

// NewVerifier creates a Verifier for the given key secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Configured reports whether a secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Verify compares the signature in constant time.
func (v *Verifier) Verify(orderID, paymentID, signature string) error {
	if !v.Configured() {
		return ErrNotConfigured
	}
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(orderID, paymentID, v.secret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the expected signature. Exposed for tests and tooling.
func Sign(orderID, paymentID, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(m.Sum(nil))
}
