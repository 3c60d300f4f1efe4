package core

import (
	"errors"
	"slices"
	"time"
)

// Credential represents one user's authorization grant
type Credential struct {
	AccessToken  string
	UserID       string
	RefreshToken string    // Empty for long-lived tokens
	ExpiresAt    time.Time // Zero for long-lived tokens
	Scopes       []string  // Granted scopes as reported by the provider, if known
}

// IsShortLived reports whether the credential carries a refresh token and expiry.
func (c Credential) IsShortLived() bool {
	return c.RefreshToken != ""
}

// Validate checks that a credential is usable and that refresh token and
// expiry are either both present or both absent.
func (c Credential) Validate() error {
	if c.AccessToken == "" || c.UserID == "" {
		return errors.New("credential requires access token and user id")
	}
	if (c.RefreshToken == "") != c.ExpiresAt.IsZero() {
		return errors.New("refresh token and expiry must be set together")
	}
	return nil
}

// ScopeType selects whether a scope request targets a user or a team.
type ScopeType string

const (
	ScopeTypeUser ScopeType = "user"
	ScopeTypeTeam ScopeType = "team"
)

// ScopeRequest describes the grant requested in the code+PKCE flow.
type ScopeRequest struct {
	Type                 ScopeType
	Scopes               []string
	IncludeGrantedScopes bool
}

// NewScopeRequest builds a scope request, dropping duplicate scopes while
// keeping the first-seen order.
func NewScopeRequest(scopeType ScopeType, scopes []string, includeGranted bool) ScopeRequest {
	ordered := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" || slices.Contains(ordered, s) {
			continue
		}
		ordered = append(ordered, s)
	}
	return ScopeRequest{
		Type:                 scopeType,
		Scopes:               ordered,
		IncludeGrantedScopes: includeGranted,
	}
}

// Flow selects the authorization grant used by Authorize.
type Flow string

const (
	FlowLegacyToken Flow = "token"
	FlowCodePKCE    Flow = "code"
)

// OutcomeKind tags an AuthorizationOutcome.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// AuthorizationOutcome is the result of handling one redirect.
type AuthorizationOutcome struct {
	Kind       OutcomeKind
	Credential *Credential

	ErrorKind ErrorKind
	Message   string
	Err       error
}

func successOutcome(cred Credential) *AuthorizationOutcome {
	return &AuthorizationOutcome{Kind: OutcomeSuccess, Credential: &cred}
}

func cancelledOutcome() *AuthorizationOutcome {
	return &AuthorizationOutcome{Kind: OutcomeCancelled}
}

func failedOutcome(kind ErrorKind, message string, err error) *AuthorizationOutcome {
	return &AuthorizationOutcome{Kind: OutcomeFailed, ErrorKind: kind, Message: message, Err: err}
}
