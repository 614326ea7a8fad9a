package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"issuer/pkg/oautherr"
)

type errorBody struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description,omitempty"`
	InputErrors      []string `json:"inputErrors,omitempty"`
}

// writeError renders err as a JSON protocol error. Non-protocol errors are
// logged and downgraded to an opaque server_error, and the unknown-browser-
// state condition answers with a bare 400 because no redirect target or error
// envelope can be trusted.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, oautherr.ErrUnknownState) {
		s.logger.WarnContext(r.Context(), "request with unknown browser state", "error", err)
		http.Error(w, oautherr.ErrUnknownState.Error(), http.StatusBadRequest)
		return
	}

	oe := s.asProtocolError(r, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oautherr.HTTPStatus(oe.Code))
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:            string(oe.Code),
		ErrorDescription: oe.Description,
		InputErrors:      oe.InputErrors,
	})
}

// flowError handles failures inside the authorize flow, after a redirect
// target may already be trusted. It recovers the pending AuthorizationState
// and sends the error back to the client's redirect_uri; with no recoverable
// state it falls back to a direct response.
func (s *Server) flowError(w http.ResponseWriter, r *http.Request, err error) {
	state, stateErr := s.recoverState(r)
	if stateErr != nil {
		s.writeError(w, r, stateErr)
		return
	}

	oe := s.asProtocolError(r, err)
	target, parseErr := url.Parse(state.RedirectURI)
	if parseErr != nil {
		s.writeError(w, r, oe)
		return
	}

	q := target.Query()
	q.Set("error", string(oe.Code))
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}
	if state.State != "" {
		q.Set("state", state.State)
	}
	target.RawQuery = q.Encode()

	s.clearState(w, r)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) asProtocolError(r *http.Request, err error) *oautherr.Error {
	var oe *oautherr.Error
	if errors.As(err, &oe) {
		if oe.Code == oautherr.CodeServerError {
			s.logger.ErrorContext(r.Context(), "internal error", "error", err)
		}
		return oe
	}
	s.logger.ErrorContext(r.Context(), "unhandled error", "error", err)
	return oautherr.Wrap(err, oautherr.CodeServerError, "internal error")
}
