package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewState generates a 128-bit random hex string used as the anti-CSRF
// state parameter on authorize URLs.
func NewState() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// VerifyState compares the state echoed on a redirect against the expected
// value in constant time.
func VerifyState(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
