// Package provider defines the contract every upstream identity integration
// implements, plus the generic OAuth2 adapter most concrete providers are
// built from.
package provider

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"issuer/internal/storage"
	"issuer/internal/token"
)

// Properties is the opaque profile payload a provider resolves for the
// authenticated principal. The flow controller hashes it into the subject and
// embeds it into issued tokens without interpreting it.
type Properties = json.RawMessage

// SuccessOptions carries per-login overrides a provider may pass alongside
// the resolved properties.
type SuccessOptions struct {
	// TTL overrides the configured access/refresh lifetimes for this
	// login only. Nil keeps the defaults.
	TTL *token.TTL
}

// CookieJar is the scoped cookie capability handed to adapters. Values are
// sealed with the server's encryption keys, so adapters can stash short-lived
// state (their own CSRF token) without caring about transport details.
type CookieJar interface {
	Set(w http.ResponseWriter, r *http.Request, name string, value []byte, maxAge int) error
	Get(r *http.Request, name string) ([]byte, error)
	Unset(w http.ResponseWriter, r *http.Request, name string)
}

// Options bundles everything the flow controller provides to an adapter at
// mount time.
type Options struct {
	// Name is the mount name of this provider instance.
	Name string

	// Success must be invoked exactly once per completed login with the
	// resolved profile properties.
	Success func(w http.ResponseWriter, r *http.Request, properties Properties, opts *SuccessOptions)

	// Failure reports a login that cannot complete. The flow controller
	// translates it into the appropriate protocol error response.
	Failure func(w http.ResponseWriter, r *http.Request, err error)

	// Cookie is the request-scoped cookie capability.
	Cookie CookieJar

	// Storage is the shared façade for adapter-private state.
	Storage storage.Store

	// Invalidate revokes a subject's token family, for adapters that
	// learn of upstream revocation.
	Invalidate token.Invalidator
}

// Provider is the adapter contract. Init mounts the adapter's routes (its
// authorize kick-off and upstream callback) on the given router, which the
// flow controller has already scoped under the provider's name.
type Provider interface {
	Type() string
	Init(r chi.Router, opts Options) error
}

