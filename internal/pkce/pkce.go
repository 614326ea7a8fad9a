// Package pkce verifies Proof Key for Code Exchange challenges (RFC 7636).
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// MethodS256 is the only supported challenge method. The "plain" method is
// deliberately rejected.
const MethodS256 = "S256"

// Challenge is the challenge/method pair recorded at authorization time.
type Challenge struct {
	Challenge string `json:"challenge"`
	Method    string `json:"method"`
}

// Validate reports whether verifier satisfies the stored challenge.
// Any method other than S256 fails, as does an empty verifier.
// The comparison is constant-time.
func Validate(verifier, challenge, method string) bool {
	if method != MethodS256 || verifier == "" {
		return false
	}
	computed := ComputeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ComputeChallenge derives the S256 code_challenge for a verifier:
// BASE64URL(SHA256(verifier)), unpadded.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
