package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/asaskevich/govalidator"

	"issuer/internal/audit"
	"issuer/internal/pkce"
	"issuer/internal/storage"
	"issuer/internal/token"
	"issuer/pkg/oautherr"
	"issuer/pkg/platform/sentinel"
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// handleToken redeems an authorization code or a refresh token. Requests may
// be form-encoded per RFC 6749 or JSON.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields := validateTokenRequest(req); len(fields) > 0 {
		s.writeError(w, r, oautherr.New(oautherr.CodeInvalidRequest, "invalid token request").
			WithInputErrors(fields...))
		return
	}

	var tokens token.Tokens
	switch req.GrantType {
	case "authorization_code":
		tokens, err = s.redeemCode(w, r, req)
	case "refresh_token":
		tokens, err = s.tokens.Refresh(r.Context(), req.RefreshToken)
	default:
		// Schema validation excludes unknown grant types, so reaching
		// this branch is a programming error, not client input.
		err = oautherr.New(oautherr.CodeServerError, "invalid grant_type")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		TokenType:    "Bearer",
	})
}

// redeemCode is strictly single-use: the code record is consumed atomically
// before any validation, so of N concurrent redemptions exactly one loads the
// record and the rest fail closed with invalid_grant.
func (s *Server) redeemCode(_ http.ResponseWriter, r *http.Request, req tokenRequest) (token.Tokens, error) {
	ctx := r.Context()
	key := append(append([]string(nil), codeNamespace...), req.Code)

	record, err := storage.TakeJSON[token.Code](ctx, s.store, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return token.Tokens{}, oautherr.New(oautherr.CodeInvalidGrant, "authorization code is used or expired")
		}
		return token.Tokens{}, oautherr.Wrap(err, oautherr.CodeServerError, "consume authorization code")
	}

	if record.RedirectURI != req.RedirectURI {
		return token.Tokens{}, oautherr.New(oautherr.CodeInvalidRedirectURI, "redirect_uri does not match the authorization request")
	}
	if record.ClientID != req.ClientID {
		return token.Tokens{}, oautherr.New(oautherr.CodeUnauthorizedClient, "client_id does not match the authorization request")
	}
	if record.PKCE != nil {
		if !pkce.Validate(req.CodeVerifier, record.PKCE.Challenge, record.PKCE.Method) {
			return token.Tokens{}, oautherr.New(oautherr.CodeInvalidGrant, "code_verifier does not match the recorded challenge")
		}
	}

	tokens, err := s.tokens.Generate(ctx, token.Value{
		Properties: record.Properties,
		Subject:    record.Subject,
		ClientID:   record.ClientID,
		TTL:        record.TTL,
	}, token.GenerateOptions{})
	if err != nil {
		return token.Tokens{}, err
	}
	s.emit(r, audit.Event{Action: audit.ActionCodeRedeemed, Subject: record.Subject, ClientID: record.ClientID})
	return tokens, nil
}

func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, oautherr.Wrap(err, oautherr.CodeInvalidRequest, "malformed request body")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, oautherr.Wrap(err, oautherr.CodeInvalidRequest, "malformed request body")
	}
	req.GrantType = r.PostFormValue("grant_type")
	req.Code = r.PostFormValue("code")
	req.RedirectURI = r.PostFormValue("redirect_uri")
	req.ClientID = r.PostFormValue("client_id")
	req.CodeVerifier = r.PostFormValue("code_verifier")
	req.RefreshToken = r.PostFormValue("refresh_token")
	return req, nil
}

func validateTokenRequest(req tokenRequest) []string {
	var fields []string
	switch req.GrantType {
	case "authorization_code":
		if !govalidator.StringLength(req.Code, "1", "512") {
			fields = append(fields, "code")
		}
		if !govalidator.StringLength(req.RedirectURI, "1", "2048") {
			fields = append(fields, "redirect_uri")
		}
		if !govalidator.StringLength(req.ClientID, "1", "255") {
			fields = append(fields, "client_id")
		}
	case "refresh_token":
		if !govalidator.StringLength(req.RefreshToken, "1", "1024") {
			fields = append(fields, "refresh_token")
		}
	default:
		fields = append(fields, "grant_type")
	}
	return fields
}
