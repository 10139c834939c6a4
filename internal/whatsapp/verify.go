// ABOUTME: X-Hub-Signature-256 verification for WhatsApp webhook deliveries
// ABOUTME: HMAC-SHA256 of the raw body keyed with the app secret, compared in constant time

package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the body signature on webhook POSTs.
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// VerifySignature checks a "sha256=<hex>" signature against body.
func VerifySignature(appSecret, signature string, body []byte) error {
	if signature == "" {
		return ErrMissingSignature
	}

	hexSum, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexSum)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, Sign(appSecret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(appSecret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(appSecret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureFor formats body's signature as it appears in SignatureHeader.
func SignatureFor(appSecret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sign(appSecret, body))
}
