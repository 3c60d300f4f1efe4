package core

import (
	"context"
	"errors"
)

var (
	ErrProviderTokenExchange = errors.New("provider token exchange failed")
	ErrProviderRefreshToken  = errors.New("provider token refresh failed")
)

// TokenRefresher exchanges a refresh token for a new access token.
// A revoked or expired refresh token is reported as ErrRefreshTokenInvalid.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, cred Credential, scopes []string) (*Credential, error)
}

// CodeExchanger redeems an authorization code obtained through the PKCE flow.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Credential, error)
}

// TokenClient is the network side of the engine.
type TokenClient interface {
	TokenRefresher
	CodeExchanger
}
