// Package signing verifies HMAC-SHA256 signatures on pushed result payloads.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header carries the hex signature of the request body.
const Header = "X-Signature"

// Signer generates and validates body signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Enabled reports whether a secret is configured. Without one every payload
// is accepted.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign returns the hex signature for body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares signature with the expected one for body. A "sha256="
// prefix, as sent by several webhook providers, is accepted.
func (s *Signer) Validate(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	expected := s.Sign(body)
	// constant-time
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
