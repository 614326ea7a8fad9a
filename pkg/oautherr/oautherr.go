// Package oautherr carries the OAuth 2.0 protocol error taxonomy used across
// the token and authorize flows. Errors created here are safe to surface to
// clients, either as a JSON body or as redirect query parameters.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is an OAuth 2.0 error code per RFC 6749 §4.1.2.1 and §5.2.
type Code string

const (
	CodeInvalidRequest         Code = "invalid_request"
	CodeInvalidGrant           Code = "invalid_grant"
	CodeUnauthorizedClient     Code = "unauthorized_client"
	CodeAccessDenied           Code = "access_denied"
	CodeUnsupportedGrantType   Code = "unsupported_grant_type"
	CodeServerError            Code = "server_error"
	CodeTemporarilyUnavailable Code = "temporarily_unavailable"

	// CodeInvalidRedirectURI is not part of RFC 6749 but is kept for parity
	// with clients that distinguish redirect mismatches from other grant
	// failures during code exchange.
	CodeInvalidRedirectURI Code = "invalid_redirect_uri"
)

// ErrUnknownState marks the condition where no trustworthy browser state can
// be recovered (authorization cookie missing, corrupt, or expired). Handlers
// must answer this with a plain 400 because no redirect target is safe.
var ErrUnknownState = errors.New("the browser was in an unknown state")

// Error is a protocol error with a client-visible code and description.
type Error struct {
	Code        Code
	Description string
	// InputErrors names the request fields that failed schema validation.
	// Only populated for invalid_request raised by validation.
	InputErrors []string

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a protocol error with the given code and description.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap attaches a protocol code to an underlying error. The underlying error
// is kept for logs; only code and description reach the client.
func Wrap(err error, code Code, description string) *Error {
	return &Error{Code: code, Description: description, cause: err}
}

// WithInputErrors returns a copy of e carrying the named invalid fields.
func (e *Error) WithInputErrors(fields ...string) *Error {
	clone := *e
	clone.InputErrors = append([]string(nil), fields...)
	return &clone
}

// Is reports whether err carries the given protocol code.
func Is(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// HTTPStatus maps a protocol code to the HTTP status the token endpoint uses.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorizedClient, CodeAccessDenied:
		return http.StatusForbidden
	case CodeServerError:
		return http.StatusInternalServerError
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
