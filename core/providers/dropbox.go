package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dbxauth/core"
)

type DropboxConfig struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"` // Empty for PKCE-only apps
	TokenURL  string `yaml:"token_url"`
}

// DropboxClient performs the token endpoint exchanges.
type DropboxClient struct {
	config     *DropboxConfig
	httpClient *http.Client
	now        func() time.Time
}

func NewDropboxClient(config *DropboxConfig) *DropboxClient {
	return &DropboxClient{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// NewDropboxClientFromConfig builds a client against the token endpoint of cfg.
func NewDropboxClientFromConfig(cfg core.Config, appSecret string) *DropboxClient {
	cfg = cfg.WithDefaults()
	return NewDropboxClient(&DropboxConfig{
		AppKey:    cfg.AppKey,
		AppSecret: appSecret,
		TokenURL:  cfg.TokenURL(),
	})
}

type dropboxTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	UID          string `json:"uid"`
	AccountID    string `json:"account_id"`
}

type dropboxErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (d *DropboxClient) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*core.Credential, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("client_id", d.config.AppKey)
	if redirectURI != "" {
		data.Set("redirect_uri", redirectURI)
	}
	if d.config.AppSecret != "" {
		data.Set("client_secret", d.config.AppSecret)
	}

	tokenResp, err := d.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderTokenExchange, core.AsCodeExchangeError(err))
	}

	if tokenResp.UID == "" || tokenResp.RefreshToken == "" || tokenResp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: response missing uid, refresh_token or expires_in", core.ErrProviderTokenExchange)
	}

	return &core.Credential{
		AccessToken:  tokenResp.AccessToken,
		UserID:       tokenResp.UID,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    d.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scopes:       strings.Fields(tokenResp.Scope),
	}, nil
}

func (d *DropboxClient) RefreshToken(ctx context.Context, cred core.Credential, scopes []string) (*core.Credential, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", cred.RefreshToken)
	data.Set("client_id", d.config.AppKey)
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}
	if d.config.AppSecret != "" {
		data.Set("client_secret", d.config.AppSecret)
	}

	tokenResp, err := d.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderRefreshToken, err)
	}

	if tokenResp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: response missing expires_in", core.ErrProviderRefreshToken)
	}

	return &core.Credential{
		AccessToken:  tokenResp.AccessToken,
		UserID:       cred.UserID,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    d.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scopes:       strings.Fields(tokenResp.Scope),
	}, nil
}

func (d *DropboxClient) postToken(ctx context.Context, data url.Values) (*dropboxTokenResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		d.config.TokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrNoNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var errResp dropboxErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, core.NewProviderError(errResp.Error, errResp.ErrorDescription)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp dropboxTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("response missing access_token")
	}

	return &tokenResp, nil
}
