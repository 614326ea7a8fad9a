package httptransport

import (
	"net/http"
	"net/url"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"issuer/internal/audit"
	"issuer/internal/pkce"
	"issuer/internal/provider"
	"issuer/internal/storage"
	"issuer/internal/token"
	"issuer/pkg/oautherr"
)

// codeTTL bounds how long a minted authorization code can be redeemed.
const codeTTL = 60 * time.Second

var codeNamespace = []string{"oauth", "code"}

// handleAuthorize validates the client's request, checks the redirect target
// against the trust heuristic, seals the request into the authorization
// cookie, and redirects into the selected provider's mount.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := &AuthorizationState{
		Provider:     q.Get("provider"),
		ResponseType: q.Get("response_type"),
		RedirectURI:  q.Get("redirect_uri"),
		ClientID:     q.Get("client_id"),
		State:        q.Get("state"),
		Audience:     q.Get("audience"),
	}
	if challenge := q.Get("code_challenge"); challenge != "" {
		state.PKCE = &pkce.Challenge{
			Challenge: challenge,
			Method:    q.Get("code_challenge_method"),
		}
	}

	if fields := validateAuthorizeRequest(s.providers, state); len(fields) > 0 {
		s.writeError(w, r, oautherr.New(oautherr.CodeInvalidRequest, "invalid authorize request").
			WithInputErrors(fields...))
		return
	}

	// The redirect target must share an apex domain with the host serving
	// this request. Raised before any state is persisted so the untrusted
	// URI never sees a redirect.
	target, err := url.Parse(state.RedirectURI)
	if err != nil || !s.matcher.Match(target.Hostname(), requestHost(r)) {
		s.writeError(w, r, oautherr.New(oautherr.CodeUnauthorizedClient, "redirect_uri is not trusted"))
		return
	}

	if err := s.storeState(w, r, state); err != nil {
		s.writeError(w, r, oautherr.Wrap(err, oautherr.CodeServerError, "persist authorization state"))
		return
	}

	http.Redirect(w, r, s.providerMountPath(state.Provider)+"/authorize", http.StatusFound)
}

func validateAuthorizeRequest(providers map[string]provider.Provider, state *AuthorizationState) []string {
	var fields []string
	if _, ok := providers[state.Provider]; !ok {
		fields = append(fields, "provider")
	}
	if state.ResponseType != "code" && state.ResponseType != "token" {
		fields = append(fields, "response_type")
	}
	if !govalidator.StringLength(state.RedirectURI, "1", "2048") || !govalidator.IsRequestURL(state.RedirectURI) {
		fields = append(fields, "redirect_uri")
	}
	if !govalidator.StringLength(state.ClientID, "1", "255") {
		fields = append(fields, "client_id")
	}
	if len(state.State) > 500 {
		fields = append(fields, "state")
	}
	if state.PKCE != nil && state.PKCE.Method != pkce.MethodS256 {
		fields = append(fields, "code_challenge_method")
	}
	return fields
}

// requestHost is the reference host for redirect trust, honouring a proxy's
// X-Forwarded-Host.
func requestHost(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		return stripPort(forwarded)
	}
	return stripPort(r.Host)
}

func stripPort(host string) string {
	if parsed, err := url.Parse("//" + host); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return host
}

func (s *Server) providerMountPath(name string) string {
	if s.cfg.PathPrefix != "" && s.cfg.PathPrefix != "/" {
		return s.cfg.PathPrefix + "/" + name
	}
	return "/" + name
}

// loginSucceeded is the single success callback every provider invokes once
// per completed login. It derives the subject from the resolved properties
// and finishes the flow per the original response_type.
func (s *Server) loginSucceeded(w http.ResponseWriter, r *http.Request, properties provider.Properties, opts *provider.SuccessOptions) {
	state, err := s.recoverState(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	subject, err := token.Subject(properties)
	if err != nil {
		s.flowError(w, r, oautherr.Wrap(err, oautherr.CodeServerError, "derive subject"))
		return
	}

	ttl := s.cfg.TTL
	if opts != nil && opts.TTL != nil {
		ttl = *opts.TTL
	}

	s.emit(r, audit.Event{
		Action:   audit.ActionLoginSucceeded,
		Subject:  subject,
		ClientID: state.ClientID,
		Provider: providerNameFrom(r.Context()),
	})

	switch state.ResponseType {
	case "token":
		tokens, err := s.tokens.Generate(r.Context(), token.Value{
			Properties: properties,
			Subject:    subject,
			ClientID:   state.ClientID,
			TTL:        ttl,
		}, token.GenerateOptions{})
		if err != nil {
			s.flowError(w, r, err)
			return
		}
		s.emit(r, audit.Event{Action: audit.ActionTokensIssued, Subject: subject, ClientID: state.ClientID})
		s.clearState(w, r)
		http.Redirect(w, r, fragmentRedirect(state, tokens), http.StatusFound)

	case "code":
		code := uuid.NewString()
		record := token.Code{
			Properties:  properties,
			Subject:     subject,
			RedirectURI: state.RedirectURI,
			ClientID:    state.ClientID,
			PKCE:        state.PKCE,
			TTL:         ttl,
		}
		key := append(append([]string(nil), codeNamespace...), code)
		if err := storage.SetJSON(r.Context(), s.store, key, record, codeTTL); err != nil {
			s.flowError(w, r, oautherr.Wrap(err, oautherr.CodeServerError, "persist authorization code"))
			return
		}
		s.emit(r, audit.Event{Action: audit.ActionCodeIssued, Subject: subject, ClientID: state.ClientID})
		s.clearState(w, r)
		http.Redirect(w, r, queryRedirect(state, code), http.StatusFound)

	default:
		s.flowError(w, r, oautherr.New(oautherr.CodeInvalidRequest, "unsupported response_type"))
	}
}

// fragmentRedirect carries implicit-style tokens in the URL fragment so they
// never reach the redirect target's server logs.
func fragmentRedirect(state *AuthorizationState, tokens token.Tokens) string {
	fragment := url.Values{}
	fragment.Set("access_token", tokens.Access)
	fragment.Set("refresh_token", tokens.Refresh)
	if state.State != "" {
		fragment.Set("state", state.State)
	}
	return state.RedirectURI + "#" + fragment.Encode()
}

func queryRedirect(state *AuthorizationState, code string) string {
	target, err := url.Parse(state.RedirectURI)
	if err != nil {
		return state.RedirectURI
	}
	q := target.Query()
	q.Set("code", code)
	if state.State != "" {
		q.Set("state", state.State)
	}
	target.RawQuery = q.Encode()
	return target.String()
}

func (s *Server) emit(r *http.Request, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(r.Context(), event); err != nil {
		s.logger.WarnContext(r.Context(), "audit emit failed", "action", event.Action, "error", err)
	}
}
