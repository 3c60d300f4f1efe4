package core

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultHost           = "www.dropbox.com"
	DefaultAPIHost        = "api.dropboxapi.com"
	DefaultRefreshMargin  = 5 * time.Minute
	DefaultRefreshTimeout = 10 * time.Second
	DefaultNonceTTL       = 10 * time.Minute
)

type Config struct {
	AppKey  string `yaml:"app_key"`
	Host    string `yaml:"host"`     // Authorization host
	APIHost string `yaml:"api_host"` // Token endpoint host

	// Additional redirect URLs recognized besides the db-<appKey> callbacks,
	// e.g. a loopback receiver for desktop hosts.
	RedirectURLs []string `yaml:"redirect_urls"`

	// Redirect URL sent to the provider. Defaults to db-<appKey>://2/token.
	RedirectURI string `yaml:"redirect_uri"`

	RefreshMargin  time.Duration `yaml:"refresh_margin"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	NonceTTL       time.Duration `yaml:"nonce_ttl"`

	BrowserAuth bool `yaml:"browser_auth"`
}

// WithDefaults returns a copy of the config with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.APIHost == "" {
		c.APIHost = DefaultAPIHost
	}
	if c.RedirectURI == "" && c.AppKey != "" {
		c.RedirectURI = c.Scheme() + "://2/token"
	}
	if c.RefreshMargin == 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	if c.RefreshTimeout == 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.NonceTTL == 0 {
		c.NonceTTL = DefaultNonceTTL
	}
	c.RedirectURLs = append([]string(nil), c.RedirectURLs...)
	return c
}

func (c Config) Validate() error {
	if c.AppKey == "" {
		return errors.New("app_key is required")
	}
	if c.Host == "" || c.APIHost == "" {
		return errors.New("host and api_host are required")
	}
	for _, raw := range append([]string{c.RedirectURI}, c.RedirectURLs...) {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid redirect url %q", raw)
		}
	}
	return nil
}

// Scheme is the custom URL scheme the host application must register.
func (c Config) Scheme() string {
	return "db-" + c.AppKey
}

// TokenURL is the OAuth2 token endpoint.
func (c Config) TokenURL() string {
	return "https://" + c.APIHost + "/oauth2/token"
}
