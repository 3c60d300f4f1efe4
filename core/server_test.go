package core_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"dbxauth/core"
	"dbxauth/core/providers"
	"dbxauth/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loopbackBase = "http://127.0.0.1:8765"

func setupTestServer(t *testing.T) (*core.RedirectServer, *core.Manager, *fakeApp) {
	t.Helper()
	config := core.Config{
		AppKey:       testAppKey,
		RedirectURI:  loopbackBase + "/callback",
		RedirectURLs: []string{loopbackBase + "/callback"},
		BrowserAuth:  true,
	}
	manager, err := core.NewManager(config, storage.NewMemoryStorage(), providers.NewMockProvider())
	require.NoError(t, err)

	server, err := core.NewRedirectServer(manager, loopbackBase)
	require.NoError(t, err)
	return server, manager, &fakeApp{}
}

func startAttempt(t *testing.T, manager *core.Manager, app *fakeApp) string {
	t.Helper()
	require.NoError(t, manager.Authorize(context.Background(), app, core.AuthorizeRequest{Flow: core.FlowCodePKCE}))
	require.Len(t, app.external, 1)
	return app.external[0].Query().Get("state")
}

func makeRequest(method, path string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	return req, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req, w := makeRequest(http.MethodGet, "/health")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestHandleRedirect_Success(t *testing.T) {
	server, manager, app := setupTestServer(t)
	state := startAttempt(t, manager, app)

	req, w := makeRequest(http.MethodGet, "/callback?code="+providers.ValidCode1+"&state="+url.QueryEscape(state))
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decodeBody(t, w)
	assert.Equal(t, "linked", body["status"])
	assert.Equal(t, providers.Credential1.UserID, body["uid"])
	assert.Contains(t, manager.AuthorizedUsers(), providers.Credential1.UserID)
}

func TestHandleRedirect_AccessDenied(t *testing.T) {
	server, manager, app := setupTestServer(t)
	startAttempt(t, manager, app)

	req, w := makeRequest(http.MethodGet, "/callback?error=access_denied")
	server.HandleRedirect(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decodeBody(t, w)["status"])
	assert.Equal(t, core.StateCancelled, manager.State())
}

func TestHandleRedirect_ProviderError(t *testing.T) {
	server, manager, app := setupTestServer(t)
	startAttempt(t, manager, app)

	req, w := makeRequest(http.MethodGet, "/callback?error=server_error&error_description=try+later")
	server.HandleRedirect(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "server_error", body["error"])
	assert.Equal(t, "try later", body["message"])
}

func TestHandleRedirect_InvalidState(t *testing.T) {
	server, manager, app := setupTestServer(t)
	startAttempt(t, manager, app)

	req, w := makeRequest(http.MethodGet, "/callback?code="+providers.ValidCode1+"&state=forged")
	server.HandleRedirect(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "unknown", body["error"])
	assert.Equal(t, "Unable to verify link request", body["message"])
	assert.Empty(t, manager.AuthorizedUsers())
}

func TestHandleRedirect_UnknownPath(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req, w := makeRequest(http.MethodGet, "/elsewhere?code=C&state=S")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_redirect", decodeBody(t, w)["error"])
}

func TestHandleRedirect_WrongMethod(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req, w := makeRequest(http.MethodPost, "/callback?code=C&state=S")
	server.HandleRedirect(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
