// Package auth checks the shared secret that guards the write routes.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing sync token")
	ErrInvalidToken = errors.New("invalid sync token")
)

// VerifySyncToken compares the presented token against the configured one
// in constant time. An empty expected token disables the check.
func VerifySyncToken(expected, presented string) error {
	if expected == "" {
		return nil
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrMissingToken
	}
	want := sha256.Sum256([]byte(expected))
	got := sha256.Sum256([]byte(presented))
	if !hmac.Equal(want[:], got[:]) {
		return ErrInvalidToken
	}
	return nil
}

// Fingerprint identifies a token in logs without revealing it.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum[:6])
}
