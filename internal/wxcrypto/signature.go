package wxcrypto

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign sorts parts lexicographically, concatenates them and returns the hex SHA-1 digest.
func Sign(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

// Verifier checks callback signatures against the shared token configured on the platform.
type Verifier struct {
	token string
}

// NewVerifier creates a Verifier for the given shared token.
func NewVerifier(token string) *Verifier {
	return &Verifier{token: token}
}

// Sign returns the signature the platform would send for timestamp, nonce and body.
func (v *Verifier) Sign(timestamp, nonce, body string) string {
	return Sign(v.token, timestamp, nonce, body)
}

// Verify reports whether signature covers token, timestamp, nonce and body.
// body is the still-encrypted field for the encrypted channel and "" otherwise.
func (v *Verifier) Verify(signature, timestamp, nonce, body string) bool {
	if v == nil || strings.TrimSpace(signature) == "" {
		return false
	}
	expected := v.Sign(timestamp, nonce, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
