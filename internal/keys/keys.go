// Package keys manages the server's asymmetric key material: signing keys for
// access JWTs and encryption keys for the authorization cookie. Keys live in
// the storage façade so that every server instance converges on the same
// rotation state.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// SigningAlgorithm is the JWS algorithm for access tokens.
const SigningAlgorithm = "RS256"

// Key is one asymmetric key with its metadata. The first entry of a key set
// is "current" for new operations; older non-purged entries remain valid for
// verifying and decrypting previously issued artifacts.
type Key struct {
	// ID is the unique identifier (the JWT kid header).
	ID string

	// Algorithm is the JWS algorithm for signing keys. Empty for
	// encryption keys, which are always used with RSA-OAEP-256 + A256GCM.
	Algorithm string

	// Created is when the key was generated.
	Created time.Time

	// Expires marks a rotated-out key. Nil means no scheduled expiry.
	Expires *time.Time

	// Private is the RSA private key. The public half is Private.Public().
	Private *rsa.PrivateKey
}

// Expired reports whether the key is past its scheduled expiry.
func (k Key) Expired(now time.Time) bool {
	return k.Expires != nil && now.After(*k.Expires)
}

// storedKey is the persisted representation of a Key.
type storedKey struct {
	ID         string     `json:"id"`
	Algorithm  string     `json:"alg,omitempty"`
	Created    time.Time  `json:"created"`
	Expires    *time.Time `json:"expires,omitempty"`
	PrivatePEM string     `json:"private"`
}

func (s storedKey) toKey() (Key, error) {
	block, _ := pem.Decode([]byte(s.PrivatePEM))
	if block == nil {
		return Key{}, fmt.Errorf("key %s: no PEM block in stored material", s.ID)
	}
	private, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return Key{}, fmt.Errorf("key %s: parse private key: %w", s.ID, err)
	}
	return Key{
		ID:        s.ID,
		Algorithm: s.Algorithm,
		Created:   s.Created,
		Expires:   s.Expires,
		Private:   private,
	}, nil
}

func fromKey(k Key) storedKey {
	der := x509.MarshalPKCS1PrivateKey(k.Private)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	return storedKey{
		ID:         k.ID,
		Algorithm:  k.Algorithm,
		Created:    k.Created,
		Expires:    k.Expires,
		PrivatePEM: string(pemBytes),
	}
}
