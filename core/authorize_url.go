package core

import (
	"net/url"
	"strings"
)

const (
	companionAppScheme = "dbapi-2"
	tokenAccessType    = "offline"
)

// LegacyAuthorizeURL builds the token-grant authorization URL.
func LegacyAuthorizeURL(cfg Config) *url.URL {
	q := url.Values{}
	q.Set("response_type", "token")
	q.Set("client_id", cfg.AppKey)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("disable_signup", "true")
	return authorizeEndpoint(cfg, q)
}

// CodeAuthorizeURL builds the code+PKCE authorization URL.
func CodeAuthorizeURL(cfg Config, pkce PKCE, state string, scopes ScopeRequest) *url.URL {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", cfg.AppKey)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", codeChallengeMethod)
	q.Set("token_access_type", tokenAccessType)
	q.Set("state", state)
	applyScopes(q, scopes)
	return authorizeEndpoint(cfg, q)
}

// CompanionAppURL builds the handoff URL for the installed companion app.
// The nonce travels in state and comes back on /connect.
func CompanionAppURL(cfg Config, flow Flow, nonce string, pkce PKCE, scopes ScopeRequest) *url.URL {
	q := url.Values{}
	q.Set("k", cfg.AppKey)
	q.Set("s", "")
	if flow == FlowCodePKCE {
		q.Set("state", codeStatePrefix+nonce)
		q.Set("code_challenge", pkce.Challenge)
		q.Set("code_challenge_method", codeChallengeMethod)
		q.Set("token_access_type", tokenAccessType)
		applyScopes(q, scopes)
	} else {
		q.Set("state", legacyStatePrefix+nonce)
	}
	return &url.URL{
		Scheme:   companionAppScheme,
		Host:     "1",
		Path:     "/connect",
		RawQuery: q.Encode(),
	}
}

func applyScopes(q url.Values, scopes ScopeRequest) {
	if len(scopes.Scopes) > 0 {
		q.Set("scope", strings.Join(scopes.Scopes, " "))
	}
	if scopes.IncludeGrantedScopes {
		scopeType := scopes.Type
		if scopeType == "" {
			scopeType = ScopeTypeUser
		}
		q.Set("include_granted_scopes", string(scopeType))
	}
}

func authorizeEndpoint(cfg Config, q url.Values) *url.URL {
	return &url.URL{
		Scheme:   "https",
		Host:     cfg.Host,
		Path:     "/1/oauth2/authorize",
		RawQuery: q.Encode(),
	}
}
