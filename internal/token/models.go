// Package token issues signed access tokens, issues and rotates refresh
// tokens, and detects refresh-token reuse.
package token

import (
	"encoding/json"
	"time"

	"issuer/internal/pkce"
)

// TTL bundles the lifetimes applied to a token pair.
type TTL struct {
	Access  time.Duration `json:"access"`
	Refresh time.Duration `json:"refresh"`
}

// Tokens is an issued access/refresh pair. Refresh is empty when refresh
// issuance was skipped.
type Tokens struct {
	Access  string
	Refresh string
}

// Value carries everything needed to mint a token pair for a subject.
type Value struct {
	// Properties is the opaque profile payload resolved by the provider.
	Properties json.RawMessage

	// Subject is the stable identifier derived from Properties.
	Subject string

	// ClientID becomes the access token audience.
	ClientID string

	// TTL holds the access/refresh lifetimes.
	TTL TTL

	// TimeUsed, when set, pins the access expiry to the first redemption
	// of the parent refresh token instead of now. Used on the refresh
	// path so retried redemptions produce consistently scoped tokens.
	TimeUsed *time.Time

	// NextToken, when non-empty, is the pre-reserved refresh token value
	// for the new chain link. Empty means mint a fresh one.
	NextToken string
}

// GenerateOptions tunes Generate. The zero value issues a refresh token,
// matching the common path.
type GenerateOptions struct {
	// SkipRefreshToken suppresses refresh issuance; the result carries
	// only an access token.
	SkipRefreshToken bool
}

// RefreshRecord is the persisted state of one refresh-token chain link,
// stored under key ("oauth","refresh",subject,token).
type RefreshRecord struct {
	Properties json.RawMessage `json:"properties"`
	ClientID   string          `json:"clientID"`
	Subject    string          `json:"subject"`
	TTL        TTL             `json:"ttl"`

	// NextToken is the successor token value, reserved before this record
	// is ever handed to a client. Two concurrent redemptions therefore
	// converge on the same successor instead of racing for a fresh one.
	NextToken string `json:"nextToken"`

	// TimeUsed is the first-redemption timestamp. Nil until the token is
	// redeemed once.
	TimeUsed *time.Time `json:"timeUsed,omitempty"`
}

// Code is a persisted one-time authorization code record, stored under
// ("oauth","code",code) with a short TTL.
type Code struct {
	Properties  json.RawMessage `json:"properties"`
	Subject     string          `json:"subject"`
	RedirectURI string          `json:"redirectURI"`
	ClientID    string          `json:"clientID"`
	PKCE        *pkce.Challenge `json:"pkce,omitempty"`
	TTL         TTL             `json:"ttl"`
}
