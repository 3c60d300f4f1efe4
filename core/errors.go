package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrNoNetwork                   = errors.New("network unreachable")
	ErrMisconfiguredRedirectScheme = errors.New("app is not registered for redirect url scheme")
	ErrRedirectVerification        = errors.New("unable to verify link request")
	ErrRefreshTokenInvalid         = errors.New("refresh token is invalid or revoked")
	ErrAuthorizationCodeInvalid    = errors.New("authorization code is invalid or expired")
	ErrRefreshTimeout              = errors.New("refresh token exchange timed out")
	ErrAlreadySetup                = errors.New("oauth manager already set up")
	ErrNotSetup                    = errors.New("oauth manager not set up")
)

// ErrorKind is the RFC6749 error taxonomy extended with SDK-local conditions.
type ErrorKind string

const (
	ErrorUnauthorizedClient      ErrorKind = "unauthorized_client"
	ErrorAccessDenied            ErrorKind = "access_denied"
	ErrorUnsupportedResponseType ErrorKind = "unsupported_response_type"
	ErrorInvalidScope            ErrorKind = "invalid_scope"
	ErrorServerError             ErrorKind = "server_error"
	ErrorTemporarilyUnavailable  ErrorKind = "temporarily_unavailable"
	ErrorUnknown                 ErrorKind = "unknown"

	ErrorNoNetwork                   ErrorKind = "no_network"
	ErrorMisconfiguredRedirectScheme ErrorKind = "misconfigured_redirect_scheme"
	ErrorRedirectVerificationFailed  ErrorKind = "redirect_verification_failed"
	ErrorRefreshTokenInvalid         ErrorKind = "refresh_token_invalid"
)

// ParseErrorKind maps a provider error code onto the taxonomy.
func ParseErrorKind(code string) ErrorKind {
	switch ErrorKind(code) {
	case ErrorUnauthorizedClient, ErrorAccessDenied, ErrorUnsupportedResponseType,
		ErrorInvalidScope, ErrorServerError, ErrorTemporarilyUnavailable:
		return ErrorKind(code)
	case "invalid_grant":
		return ErrorRefreshTokenInvalid
	default:
		return ErrorUnknown
	}
}

// Retryable reports whether the condition is transient.
func (k ErrorKind) Retryable() bool {
	return k == ErrorNoNetwork || k == ErrorServerError || k == ErrorTemporarilyUnavailable
}

// OAuthError carries a provider or SDK error through the taxonomy.
type OAuthError struct {
	Kind        ErrorKind
	Code        string // Raw provider error code, if any
	Description string
	Err         error
}

func (e *OAuthError) Error() string {
	msg := string(e.Kind)
	if e.Code != "" && e.Code != msg {
		msg += " (" + e.Code + ")"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind of err, or ErrorUnknown.
func KindOf(err error) ErrorKind {
	var oerr *OAuthError
	if errors.As(err, &oerr) {
		return oerr.Kind
	}
	switch {
	case errors.Is(err, ErrRefreshTokenInvalid):
		return ErrorRefreshTokenInvalid
	case errors.Is(err, ErrNoNetwork):
		return ErrorNoNetwork
	case errors.Is(err, ErrMisconfiguredRedirectScheme):
		return ErrorMisconfiguredRedirectScheme
	case errors.Is(err, ErrRedirectVerification):
		return ErrorRedirectVerificationFailed
	}
	return ErrorUnknown
}

func newProviderError(code, description string) *OAuthError {
	kind := ParseErrorKind(code)
	oerr := &OAuthError{Kind: kind, Code: code, Description: description}
	if kind == ErrorRefreshTokenInvalid {
		oerr.Err = ErrRefreshTokenInvalid
	}
	return oerr
}

// NewProviderError builds an OAuthError from a provider error response.
func NewProviderError(code, description string) error {
	return newProviderError(code, description)
}

// AsCodeExchangeError reclassifies an invalid_grant returned by an
// authorization code exchange. There it names the code, not a refresh token.
func AsCodeExchangeError(err error) error {
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Kind != ErrorRefreshTokenInvalid {
		return err
	}
	codeErr := &OAuthError{Kind: ErrorUnknown, Code: oerr.Code, Description: oerr.Description, Err: ErrAuthorizationCodeInvalid}
	if errors.Is(err, ErrProviderTokenExchange) {
		return fmt.Errorf("%w: %w", ErrProviderTokenExchange, codeErr)
	}
	return codeErr
}

func invalidScopeError(format string, args ...any) error {
	return &OAuthError{Kind: ErrorInvalidScope, Description: fmt.Sprintf(format, args...)}
}
