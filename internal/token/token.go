// Package token implements the per-listing edit token lifecycle. Tokens are
// high-entropy bearer strings returned to the submitter exactly once; the
// system retains only their SHA-256 hash.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Mint returns a fresh edit token: 32 random bytes, URL-safe base64 without
// padding (43 characters).
func Mint() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the lowercase hex SHA-256 of a token. Deterministic and
// unsalted; the token itself carries 256 bits of entropy.
func Hash(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// Verify reports whether the presented plaintext hashes to storedHash,
// in constant time.
func Verify(presented, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(presented)), []byte(storedHash)) == 1
}
