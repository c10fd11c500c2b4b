// Package signature holds the HMAC-SHA256 primitives shared by session cookies,
// payment confirmations and gateway webhooks. Every comparison goes through
// hmac.Equal; callers must never compare signatures with == or bytes.Equal.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// MinSecretLength is the shortest secret accepted in signed mode.
const MinSecretLength = 32

var (
	ErrSecretMissing  = errors.New("signing secret is not configured")
	ErrSecretTooShort = errors.New("signing secret is shorter than 32 characters")
)

// CheckSecret reports whether secret is usable for signing. There is no
// unsigned fallback: callers treat any error as fatal configuration.
func CheckSecret(secret string) error {
	if secret == "" {
		return ErrSecretMissing
	}
	if len(secret) < MinSecretLength {
		return ErrSecretTooShort
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of message under secret.
func Sign(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// Verify recomputes the MAC and compares it in constant time.
func Verify(secret, message, sig []byte) bool {
	if len(secret) == 0 || len(sig) == 0 {
		return false
	}
	return hmac.Equal(Sign(secret, message), sig)
}

// SignHex encodes the MAC as lowercase hex (gateway wire format).
func SignHex(secret, message []byte) string {
	return hex.EncodeToString(Sign(secret, message))
}

// VerifyHex verifies a lowercase hex signature. The expected encoding is
// compared as text, so case changes and other non-canonical spellings of the
// same bytes are mismatches.
func VerifyHex(secret, message []byte, sig string) bool {
	return verifyEncoded(secret, sig, SignHex(secret, message))
}

// SignBase64URL encodes the MAC as unpadded URL-safe base64 (cookie wire format).
func SignBase64URL(secret, message []byte) string {
	return base64.RawURLEncoding.EncodeToString(Sign(secret, message))
}

// VerifyBase64URL verifies an unpadded base64url signature. Trailing bits in
// the last character must be zero, as in the encoder's output.
func VerifyBase64URL(secret, message []byte, sig string) bool {
	return verifyEncoded(secret, sig, SignBase64URL(secret, message))
}

func verifyEncoded(secret []byte, sig, expected string) bool {
	sig = strings.TrimSpace(sig)
	if len(secret) == 0 || sig == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}

// PaymentMessage builds the "orderId|paymentId" payload signed by the gateway
// on checkout completion.
func PaymentMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
