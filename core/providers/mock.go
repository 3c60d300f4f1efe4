package providers

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dbxauth/core"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
)

// Predefined test refresh tokens
const (
	RefreshToken1       = "mock_refresh_token_1"
	RefreshToken2       = "mock_refresh_token_2"
	RevokedRefreshToken = "mock_refresh_token_revoked"
)

// Predefined test credentials, as returned by the code exchange
var (
	Credential1 = core.Credential{
		AccessToken:  "mock_access_token_1",
		UserID:       "mock_user_1",
		RefreshToken: RefreshToken1,
		Scopes:       []string{"account_info.read", "files.content.read"},
	}

	Credential2 = core.Credential{
		AccessToken:  "mock_access_token_2",
		UserID:       "mock_user_2",
		RefreshToken: RefreshToken2,
		Scopes:       []string{"files.content.read"},
	}
)

// MockProvider is a test implementation of core.TokenClient.
type MockProvider struct {
	ExpiresIn time.Duration
	// Delay holds every refresh for this long, to widen race windows in tests.
	Delay time.Duration

	mu            sync.Mutex
	codes         map[string]core.Credential
	verifiers     map[string]string // code -> expected verifier, if pinned
	refreshCounts map[string]int
	lastExchange  [3]string // code, verifier, redirect uri

	// track method calls for verification
	exchangeCodeCalls  atomic.Int64
	refreshTokenCalls  atomic.Int64
	scopedRefreshCalls atomic.Int64
	refreshesInFlight  atomic.Int64
	maxInFlight        atomic.Int64
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		ExpiresIn: 4 * time.Hour,
		codes: map[string]core.Credential{
			ValidCode1: Credential1,
			ValidCode2: Credential2,
		},
		verifiers:     make(map[string]string),
		refreshCounts: make(map[string]int),
	}
}

// ExpectVerifier makes ExchangeCode reject code unless verifier matches.
func (m *MockProvider) ExpectVerifier(code, verifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifiers[code] = verifier
}

// LastExchange returns the arguments of the most recent ExchangeCode call.
func (m *MockProvider) LastExchange() (code, verifier, redirectURI string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastExchange[0], m.lastExchange[1], m.lastExchange[2]
}

func (m *MockProvider) ExchangeCodeCalls() int64 { return m.exchangeCodeCalls.Load() }
func (m *MockProvider) RefreshTokenCalls() int64 { return m.refreshTokenCalls.Load() }

// ScopedRefreshCalls counts refreshes that asked for a reduced scope set.
func (m *MockProvider) ScopedRefreshCalls() int64 { return m.scopedRefreshCalls.Load() }

// MaxConcurrentRefreshes is the largest number of refreshes seen in flight at once.
func (m *MockProvider) MaxConcurrentRefreshes() int64 { return m.maxInFlight.Load() }

func (m *MockProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*core.Credential, error) {
	m.exchangeCodeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastExchange = [3]string{code, codeVerifier, redirectURI}
	cred, ok := m.codes[code]
	expected, pinned := m.verifiers[code]
	m.mu.Unlock()

	if !ok || codeVerifier == "" || (pinned && expected != codeVerifier) {
		return nil, core.NewProviderError("invalid_grant", "invalid authorization code")
	}

	cred.ExpiresAt = time.Now().Add(m.ExpiresIn)
	return &cred, nil
}

func (m *MockProvider) RefreshToken(ctx context.Context, cred core.Credential, scopes []string) (*core.Credential, error) {
	m.refreshTokenCalls.Add(1)
	if len(scopes) > 0 {
		m.scopedRefreshCalls.Add(1)
	}

	n := m.refreshesInFlight.Add(1)
	defer m.refreshesInFlight.Add(-1)
	for {
		seen := m.maxInFlight.Load()
		if n <= seen || m.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if cred.RefreshToken == RevokedRefreshToken || cred.RefreshToken == "" {
		return nil, core.NewProviderError("invalid_grant", "refresh token has been revoked")
	}

	m.mu.Lock()
	m.refreshCounts[cred.RefreshToken]++
	count := m.refreshCounts[cred.RefreshToken]
	m.mu.Unlock()

	return &core.Credential{
		AccessToken: cred.AccessToken + "_refreshed_" + strconv.Itoa(count),
		UserID:      cred.UserID,
		ExpiresAt:   time.Now().Add(m.ExpiresIn),
		Scopes:      scopes,
	}, nil
}
