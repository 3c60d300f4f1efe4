package core

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedRedirect = errors.New("malformed redirect url")

const (
	legacyStatePrefix = "oauth2:"
	codeStatePrefix   = "oauth2code:"
)

type RedirectKind string

const (
	RedirectToken   RedirectKind = "token"   // fragment-encoded credential
	RedirectCode    RedirectKind = "code"    // query-encoded authorization code
	RedirectConnect RedirectKind = "connect" // companion app handoff
	RedirectCancel  RedirectKind = "cancel"
	RedirectError   RedirectKind = "error"
)

// Redirect is a parsed callback URL. Which fields are set depends on Kind.
// Connect redirects are returned unvalidated so the nonce can be checked
// before anything else.
type Redirect struct {
	Kind RedirectKind

	Credential Credential // RedirectToken, and legacy RedirectConnect
	Code       string     // RedirectCode, and code-flow RedirectConnect
	State      string     // RedirectCode, and RedirectError when present

	Nonce       string // RedirectConnect
	ConnectFlow Flow   // RedirectConnect

	ErrorCode        string // RedirectError
	ErrorDescription string
}

// RedirectMatcher recognizes the callback URLs that belong to one app.
// Scheme, host and path are compared exactly.
type RedirectMatcher struct {
	targets map[string]struct{}
}

func NewRedirectMatcher(urls ...string) (*RedirectMatcher, error) {
	m := &RedirectMatcher{targets: make(map[string]struct{}, len(urls))}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect url %q: %w", raw, err)
		}
		m.targets[matchKey(u)] = struct{}{}
	}
	return m, nil
}

// DefaultRedirectURLs lists the callbacks an app key answers to.
func DefaultRedirectURLs(cfg Config) []string {
	scheme := cfg.Scheme()
	urls := []string{
		scheme + "://2/token",
		scheme + "://1/connect",
		scheme + "://1/cancel",
		scheme + "://2/cancel",
	}
	if cfg.RedirectURI != "" {
		urls = append(urls, cfg.RedirectURI)
	}
	return append(urls, cfg.RedirectURLs...)
}

func (m *RedirectMatcher) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	_, ok := m.targets[matchKey(u)]
	return ok
}

func matchKey(u *url.URL) string {
	path := u.Path
	if path == "" && u.Opaque != "" {
		path = u.Opaque
	}
	return u.Scheme + "://" + u.Host + path
}

// ParseRedirect decodes a recognized callback URL. now is used to turn
// expires_in into an absolute expiry.
func ParseRedirect(u *url.URL, now time.Time) (*Redirect, error) {
	switch u.Path {
	case "/cancel":
		return &Redirect{Kind: RedirectCancel}, nil
	case "/connect":
		return parseConnect(u.Query())
	}

	query := u.Query()
	if u.Fragment == "" && (query.Has("code") || query.Has("error")) {
		return parseCode(query)
	}

	fragment, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRedirect, err)
	}
	return parseFragment(fragment, now)
}

func parseFragment(values url.Values, now time.Time) (*Redirect, error) {
	if r, ok := errorRedirect(values); ok {
		return r, nil
	}

	accessToken, uid := values.Get("access_token"), values.Get("uid")
	if accessToken == "" || uid == "" {
		return nil, fmt.Errorf("%w: missing access_token or uid", ErrMalformedRedirect)
	}

	cred := Credential{
		AccessToken: accessToken,
		UserID:      uid,
		Scopes:      strings.Fields(values.Get("scope")),
	}

	if refresh := values.Get("refresh_token"); refresh != "" {
		expiresIn, err := strconv.ParseInt(values.Get("expires_in"), 10, 64)
		if err != nil || expiresIn <= 0 {
			return nil, fmt.Errorf("%w: refresh_token without valid expires_in", ErrMalformedRedirect)
		}
		cred.RefreshToken = refresh
		cred.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}

	return &Redirect{Kind: RedirectToken, Credential: cred}, nil
}

func parseCode(values url.Values) (*Redirect, error) {
	if r, ok := errorRedirect(values); ok {
		return r, nil
	}

	code, state := values.Get("code"), values.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: missing code or state", ErrMalformedRedirect)
	}
	return &Redirect{Kind: RedirectCode, Code: code, State: state}, nil
}

func parseConnect(values url.Values) (*Redirect, error) {
	if r, ok := errorRedirect(values); ok {
		return r, nil
	}

	state := values.Get("state")
	r := &Redirect{Kind: RedirectConnect}

	switch {
	case strings.HasPrefix(state, codeStatePrefix):
		r.ConnectFlow = FlowCodePKCE
		r.Nonce = strings.TrimPrefix(state, codeStatePrefix)
		r.Code = values.Get("oauth_code")
	case strings.HasPrefix(state, legacyStatePrefix):
		r.ConnectFlow = FlowLegacyToken
		r.Nonce = strings.TrimPrefix(state, legacyStatePrefix)
		r.Credential = Credential{
			AccessToken: values.Get("oauth_token_secret"),
			UserID:      values.Get("uid"),
		}
	default:
		// No recognizable nonce; verification will fail.
		r.ConnectFlow = FlowLegacyToken
	}

	return r, nil
}

func errorRedirect(values url.Values) (*Redirect, bool) {
	code := values.Get("error")
	if code == "" {
		return nil, false
	}
	return &Redirect{
		Kind:             RedirectError,
		ErrorCode:        code,
		ErrorDescription: values.Get("error_description"),
		State:            values.Get("state"),
	}, true
}
