// Package security provides token generation and password hashing primitives.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// tokenBytes is the entropy of a session token. 32 bytes = 256 bits, well
// above the 128-bit minimum for unguessable tokens.
const tokenBytes = 32

// GenerateToken returns an opaque, URL-safe session token with 256 bits of
// entropy. Consumers must treat it as structureless; only the session store
// may look it up.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns a SHA-256 hash of the token, hex-encoded. Used wherever a
// token must be referenced without recording the raw value (audit metadata,
// logs).
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenEqual performs a constant-time comparison of two tokens. Returns true
// only if they match.
func TokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
