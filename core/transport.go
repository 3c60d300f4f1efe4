package core

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type providerTokenSource struct {
	ctx      context.Context
	provider AccessTokenProvider
}

// TokenSource adapts an AccessTokenProvider to oauth2.TokenSource. Every
// call goes through RefreshIfNecessary, so expiring tokens are refreshed
// before they are handed out.
func TokenSource(ctx context.Context, provider AccessTokenProvider) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: provider}
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.provider.RefreshIfNecessary(s.ctx, nil)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	}, nil
}

// NewHTTPClient returns a client that authorizes every request with the
// provider's token. base may be nil.
func NewHTTPClient(ctx context.Context, provider AccessTokenProvider, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: TokenSource(ctx, provider),
			Base:   base,
		},
	}
}
