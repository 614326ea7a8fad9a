package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"issuer/internal/pkce"
	"issuer/pkg/oautherr"
)

// authorizationCookie carries the pending AuthorizationState across the
// redirect to and from the upstream identity provider.
const authorizationCookie = "authorization"

// authorizationCookieMaxAge is 24 hours, in seconds.
const authorizationCookieMaxAge = 24 * 60 * 60

// AuthorizationState is the client's original authorize request, preserved
// only inside the encrypted cookie until the login completes.
type AuthorizationState struct {
	RedirectURI  string          `json:"redirect_uri"`
	ResponseType string          `json:"response_type"`
	State        string          `json:"state,omitempty"`
	ClientID     string          `json:"client_id"`
	Audience     string          `json:"audience,omitempty"`
	Provider     string          `json:"provider"`
	PKCE         *pkce.Challenge `json:"pkce,omitempty"`
}

type contextKey string

const (
	providerNameKey  contextKey = "identity.provider"
	authorizationKey contextKey = "identity.authorization"
)

func withProviderName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, providerNameKey, name)
}

func providerNameFrom(ctx context.Context) string {
	name, _ := ctx.Value(providerNameKey).(string)
	return name
}

func withAuthorizationState(ctx context.Context, state *AuthorizationState) context.Context {
	return context.WithValue(ctx, authorizationKey, state)
}

func authorizationStateFrom(ctx context.Context) *AuthorizationState {
	state, _ := ctx.Value(authorizationKey).(*AuthorizationState)
	return state
}

func unmarshalState(data []byte, state *AuthorizationState) error {
	return json.Unmarshal(data, state)
}

// recoverState resolves the pending AuthorizationState from its two sources,
// cookie first, request-local slot second. Failure to recover means no
// redirect target can be trusted, surfaced as ErrUnknownState.
func (s *Server) recoverState(r *http.Request) (*AuthorizationState, error) {
	if data, err := s.jar.Get(r, authorizationCookie); err == nil {
		var state AuthorizationState
		if err := json.Unmarshal(data, &state); err == nil {
			return &state, nil
		}
	}
	if state := authorizationStateFrom(r.Context()); state != nil {
		return state, nil
	}
	return nil, oautherr.ErrUnknownState
}

func (s *Server) storeState(w http.ResponseWriter, r *http.Request, state *AuthorizationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.jar.Set(w, r, authorizationCookie, data, authorizationCookieMaxAge)
}

func (s *Server) clearState(w http.ResponseWriter, r *http.Request) {
	s.jar.Unset(w, r, authorizationCookie)
}
