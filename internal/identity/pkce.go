package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// pkceTTL bounds how long an OAuth flow may take to come back.
const pkceTTL = 10 * time.Minute

type pkceFlow struct {
	verifier  string
	provider  string
	startedAt time.Time
}

// newVerifier returns a PKCE code verifier and its S256 challenge.
func newVerifier() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
