package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

var (
	// ErrMissingSignature is returned when X-Hub-Signature-256 is absent.
	ErrMissingSignature = errors.New("missing X-Hub-Signature-256 header")
	// ErrInvalidSignature is returned for a malformed or non-matching signature.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Sign returns the X-Hub-Signature-256 value GitHub sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the header against payload using a constant-time
// comparison.
func VerifySignature(payload []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(header), []byte(Sign(payload, secret))) {
		return ErrInvalidSignature
	}
	return nil
}
