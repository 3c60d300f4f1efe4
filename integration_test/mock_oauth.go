package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

type mockGrant struct {
	UID   string
	Scope string
}

var mockCodes = map[string]mockGrant{
	"valid_code_1": {UID: "dbid_user_1", Scope: "account_info.read files.content.read"},
	"valid_code_2": {UID: "dbid_user_2", Scope: "files.content.read"},
}

// MockOAuthServer imitates the Dropbox token endpoint.
type MockOAuthServer struct {
	server   *httptest.Server
	clientID string

	mu            sync.Mutex
	refreshTokens map[string]mockGrant
	refreshCounts map[string]int

	refreshCalls atomic.Int64
}

func NewMockOAuthServer(clientID string) *MockOAuthServer {
	m := &MockOAuthServer{
		clientID:      clientID,
		refreshTokens: make(map[string]mockGrant),
		refreshCounts: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", m.handleToken)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) TokenURL() string {
	return m.server.URL + "/oauth2/token"
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

// AddRefreshToken makes the server accept a refresh token that was not
// issued through a code exchange.
func (m *MockOAuthServer) AddRefreshToken(token, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[token] = mockGrant{UID: uid}
}

func (m *MockOAuthServer) RefreshCalls() int64 {
	return m.refreshCalls.Load()
}

func (m *MockOAuthServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens = make(map[string]mockGrant)
	m.refreshCounts = make(map[string]int)
	m.refreshCalls.Store(0)
}

func (m *MockOAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed body")
		return
	}
	if r.PostForm.Get("client_id") != m.clientID {
		writeOAuthError(w, "invalid_client", "unknown client_id")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		grant, ok := mockCodes[code]
		if !ok || r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, "invalid_grant", "code doesn't exist or has expired")
			return
		}

		refreshToken := "refresh_" + code
		m.mu.Lock()
		m.refreshTokens[refreshToken] = grant
		m.mu.Unlock()

		writeJSON(w, map[string]any{
			"access_token":  "access_" + code,
			"token_type":    "bearer",
			"expires_in":    14400,
			"refresh_token": refreshToken,
			"scope":         grant.Scope,
			"uid":           grant.UID,
			"account_id":    "dbid:" + grant.UID,
		})

	case "refresh_token":
		m.refreshCalls.Add(1)
		refreshToken := r.PostForm.Get("refresh_token")

		m.mu.Lock()
		_, ok := m.refreshTokens[refreshToken]
		m.refreshCounts[refreshToken]++
		n := m.refreshCounts[refreshToken]
		m.mu.Unlock()

		if !ok {
			writeOAuthError(w, "invalid_grant", "refresh token is invalid or revoked")
			return
		}

		writeJSON(w, map[string]any{
			"access_token": fmt.Sprintf("access_refreshed_%s_%d", refreshToken, n),
			"token_type":   "bearer",
			"expires_in":   14400,
		})

	default:
		writeOAuthError(w, "unsupported_grant_type", "")
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
