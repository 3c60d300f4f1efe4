package storage_test

import (
	"context"
	"errors"
	"net/url"

	"dbxauth/core"
)

type noopClient struct{}

func (noopClient) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*core.Credential, error) {
	return nil, errors.New("not used")
}

func (noopClient) RefreshToken(ctx context.Context, cred core.Credential, scopes []string) (*core.Credential, error) {
	return nil, errors.New("not used")
}

// companionApp accepts every companion app handoff.
type companionApp struct {
	handoff *url.URL
}

func (a *companionApp) PresentError(message, title string) {}
func (a *companionApp) PresentErrorWithRetry(message, title string, h core.RetryHandlers) {}
func (a *companionApp) PresentPlatformSpecificAuth(authURL *url.URL) bool { return false }
func (a *companionApp) PresentWebAuth(authURL *url.URL, _ func(*url.URL) bool, _ func()) {}
func (a *companionApp) PresentExternalApp(u *url.URL) { a.handoff = u }
func (a *companionApp) CanPresentExternalApp(u *url.URL) bool { return true }
func (a *companionApp) PresentLoading() {}
func (a *companionApp) DismissLoading() {}
