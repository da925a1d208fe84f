package internal

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	// OpaqueTokenBytes is the entropy of verification tokens.
	OpaqueTokenBytes = 32
	stateBytes       = 24
)

// NewOpaqueToken returns 32 random bytes, base64url encoded without padding.
func NewOpaqueToken() (string, error) {
	return randomString(OpaqueTokenBytes)
}

// NewOAuthState returns a random value for the OAuth state parameter.
func NewOAuthState() (string, error) {
	return randomString(stateBytes)
}

// IsOpaqueToken reports whether s has the shape NewOpaqueToken produces.
// It lets callers skip a store round trip for obvious garbage.
func IsOpaqueToken(s string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(raw) == OpaqueTokenBytes
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
