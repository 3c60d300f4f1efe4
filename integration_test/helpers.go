package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"time"

	"dbxauth/core"
	"dbxauth/storage"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type RedirectResponse struct {
	Status  string `json:"status"`
	UID     string `json:"uid"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// runCLI runs the built binary and returns its stdout. stderr carries logs
// and the error message, if any.
func runCLI(binaryPath, configPath string, args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, append([]string{"--config", configPath}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func openStore(dbPath, passphrase, salt string) (*core.CredentialStore, func(), error) {
	crypto, err := core.NewCryptoServiceFromPassphrase(passphrase, []byte(salt))
	if err != nil {
		return nil, nil, err
	}
	secure, err := storage.NewSQLiteStorage(dbPath, crypto, zerolog.Nop())
	if err != nil {
		return nil, nil, err
	}
	return core.NewCredentialStore(secure, zerolog.Nop()), func() { secure.Close() }, nil
}

func seedCredentials(dbPath, passphrase, salt string, creds ...core.Credential) error {
	store, closeStore, err := openStore(dbPath, passphrase, salt)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, cred := range creds {
		if !store.Store(cred) {
			return fmt.Errorf("failed to seed credential for %s", cred.UserID)
		}
	}
	return nil
}

// seedRaw writes a value as-is, bypassing the credential codec.
func seedRaw(dbPath, passphrase, salt, key string, value []byte) error {
	crypto, err := core.NewCryptoServiceFromPassphrase(passphrase, []byte(salt))
	if err != nil {
		return err
	}
	secure, err := storage.NewSQLiteStorage(dbPath, crypto, zerolog.Nop())
	if err != nil {
		return err
	}
	defer secure.Close()

	if !secure.Set(key, value) {
		return fmt.Errorf("failed to seed %s", key)
	}
	return nil
}

func loadCredential(dbPath, passphrase, salt, uid string) (*core.Credential, error) {
	store, closeStore, err := openStore(dbPath, passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.Get(uid), nil
}

func countItems(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM secure_items WHERE item_key NOT LIKE '\\_\\_dbxauth.%' ESCAPE '\\'").Scan(&count)
	return count, err
}

func followRedirect(baseURL string, query url.Values) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Get(baseURL + "/callback?" + query.Encode())
}

func parseRedirectResponse(resp *http.Response) (*RedirectResponse, error) {
	var result RedirectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// browserApp stands in for a desktop host that opens the system browser.
type browserApp struct {
	opened chan *url.URL
}

func newBrowserApp() *browserApp {
	return &browserApp{opened: make(chan *url.URL, 1)}
}

func (a *browserApp) PresentError(message, title string) {}
func (a *browserApp) PresentErrorWithRetry(message, title string, h core.RetryHandlers) { h.Cancel() }
func (a *browserApp) PresentPlatformSpecificAuth(authURL *url.URL) bool { return false }
func (a *browserApp) PresentWebAuth(authURL *url.URL, _ func(*url.URL) bool, cancel func()) {
	cancel()
}
func (a *browserApp) PresentExternalApp(u *url.URL) { a.opened <- u }
func (a *browserApp) CanPresentExternalApp(u *url.URL) bool { return false }
func (a *browserApp) PresentLoading() {}
func (a *browserApp) DismissLoading() {}
