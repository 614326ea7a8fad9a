// Package middleware provides HTTP middleware for services that sit behind
// the issuer and need to verify the access tokens it mints.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"issuer/internal/keys"
)

// AccessClaims is the verified identity extracted from an access token.
type AccessClaims struct {
	Subject    string
	ClientID   string
	Properties json.RawMessage
}

type contextKeyClaims struct{}

// GetClaims retrieves the verified access claims from the context, or nil
// when the request did not pass RequireAccessToken.
func GetClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(contextKeyClaims{}).(*AccessClaims)
	return claims
}

// Verifier validates access tokens against the key manager's signing keys,
// so rotation is picked up without restarts.
type Verifier struct {
	keys   *keys.Manager
	issuer string
}

func NewVerifier(km *keys.Manager, issuer string) *Verifier {
	return &Verifier{keys: km, issuer: issuer}
}

// Verify parses and validates the raw access token.
func (v *Verifier) Verify(raw string) (*AccessClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFor,
		jwt.WithValidMethods([]string{keys.SigningAlgorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	if mode, _ := claims["mode"].(string); mode != "access" {
		return nil, fmt.Errorf("token is not an access token")
	}

	out := &AccessClaims{}
	out.Subject, _ = claims["sub"].(string)
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		out.ClientID = aud[0]
	}
	if props, ok := claims["properties"]; ok {
		if data, err := json.Marshal(props); err == nil {
			out.Properties = data
		}
	}
	return out, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	for _, key := range v.keys.SigningKeys() {
		if key.ID == kid {
			return &key.Private.PublicKey, nil
		}
	}
	return nil, fmt.Errorf("unknown signing key %s", kid)
}

// RequireAccessToken rejects requests without a valid bearer token and makes
// the verified claims available via GetClaims.
func (v *Verifier) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			http.Error(w, "invalid access token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyClaims{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
