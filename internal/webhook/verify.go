package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
)

// ErrBadSignature is returned when a webhook signature does not match the
// HMAC of the raw body. Terminal: the gateway must not redeliver.
var ErrBadSignature = errors.New("webhook signature verification failed")

// Verifier authenticates inbound webhooks. The secret is resolved once at
// startup from configuration.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier with the configured webhook secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature against HMAC-SHA512 of the raw body. The raw bytes
// must be exactly as received; re-serializing the JSON breaks the signature.
// Comparison is constant-time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 || signature == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature for a body. Used by tests and outbound tooling.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
