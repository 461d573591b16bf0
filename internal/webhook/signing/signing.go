// Package signing generates endpoint secrets and computes the HMAC signatures carried
// by outbound webhook deliveries and inbound provider events.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SecretPrefix = "whsec_"
	secretBytes  = 32
	maskToken    = "****"
)

// NewSecret returns a random endpoint secret carrying 256 bits of entropy.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of body under secret.
func Verify(secret string, body []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	signature = strings.TrimPrefix(signature, "sha256=")
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Mask redacts a secret down to its prefix. No secret characters survive.
func Mask(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix := ""
	if i := strings.LastIndex(trimmed, "_"); i >= 0 {
		prefix = trimmed[:i+1]
	}
	return prefix + maskToken
}
