package provider

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// stateCookie holds the CSRF state minted at kick-off until the upstream
// callback returns. Sealed by the flow controller's cookie codec.
const stateCookie = "oauth-state"

const stateCookieMaxAge = 300

// ExchangeFunc resolves the upstream token into profile properties, typically
// by calling the IdP's user API or decoding an ID token it carries.
type ExchangeFunc func(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (Properties, error)

// OAuth2Provider is a generic authorization-code adapter over an upstream
// OAuth2 IdP. Concrete providers supply the endpoint configuration and an
// exchange function; the adapter owns the state round-trip.
type OAuth2Provider struct {
	TypeName string
	Config   *oauth2.Config
	Exchange ExchangeFunc

	// AuthCodeOptions is appended to the upstream authorize redirect.
	AuthCodeOptions []oauth2.AuthCodeOption
}

func (p *OAuth2Provider) Type() string { return p.TypeName }

// Init mounts the kick-off and callback routes. The router is already scoped
// under the provider's mount name.
func (p *OAuth2Provider) Init(r chi.Router, opts Options) error {
	if p.Config == nil {
		return fmt.Errorf("provider %s: missing oauth2 config", p.TypeName)
	}
	if p.Exchange == nil {
		return fmt.Errorf("provider %s: missing exchange func", p.TypeName)
	}

	r.Get("/authorize", func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		if err := opts.Cookie.Set(w, r, stateCookie, []byte(state), stateCookieMaxAge); err != nil {
			opts.Failure(w, r, fmt.Errorf("set state cookie: %w", err))
			return
		}
		http.Redirect(w, r, p.Config.AuthCodeURL(state, p.AuthCodeOptions...), http.StatusFound)
	})

	r.Get("/callback", func(w http.ResponseWriter, r *http.Request) {
		want, err := opts.Cookie.Get(r, stateCookie)
		if err != nil {
			opts.Failure(w, r, fmt.Errorf("read state cookie: %w", err))
			return
		}
		opts.Cookie.Unset(w, r, stateCookie)

		got := r.URL.Query().Get("state")
		if subtle.ConstantTimeCompare(want, []byte(got)) != 1 {
			opts.Failure(w, r, fmt.Errorf("state mismatch for provider %s", p.TypeName))
			return
		}
		if msg := r.URL.Query().Get("error"); msg != "" {
			opts.Failure(w, r, fmt.Errorf("upstream error: %s", msg))
			return
		}

		tok, err := p.Config.Exchange(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			opts.Failure(w, r, fmt.Errorf("exchange upstream code: %w", err))
			return
		}

		properties, err := p.Exchange(r.Context(), p.Config, tok)
		if err != nil {
			opts.Failure(w, r, fmt.Errorf("resolve properties: %w", err))
			return
		}
		opts.Success(w, r, properties, nil)
	})

	return nil
}
