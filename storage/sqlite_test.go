package storage_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"dbxauth/core"
	"dbxauth/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T, path string, crypto *core.CryptoService) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(path, crypto, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage_SetGetDelete(t *testing.T) {
	s := newSQLite(t, filepath.Join(t.TempDir(), "creds.db"), nil)

	assert.True(t, s.Set("b", []byte("2")))
	assert.True(t, s.Set("a", []byte("1")))
	assert.True(t, s.Set("a", []byte("1-updated")))

	value, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1-updated", string(value))

	_, ok = s.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, s.Keys())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))

	assert.True(t, s.DeleteAll())
	assert.Empty(t, s.Keys())
}

func TestSQLiteStorage_SealsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")
	crypto, err := core.NewCryptoServiceFromPassphrase("passphrase", []byte("salt-salt"))
	require.NoError(t, err)

	s := newSQLite(t, path, crypto)
	require.True(t, s.Set("42", []byte(`{"accessToken":"T","uid":"42"}`)))

	value, ok := s.Get("42")
	require.True(t, ok)
	assert.Equal(t, `{"accessToken":"T","uid":"42"}`, string(value))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT item_value FROM secure_items WHERE item_key = ?`, "42").Scan(&raw))
	assert.NotContains(t, string(raw), "accessToken")
}

func TestSQLiteStorage_WrongKeyReadsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")
	good, err := core.NewCryptoServiceFromPassphrase("passphrase", []byte("salt-salt"))
	require.NoError(t, err)
	bad, err := core.NewCryptoServiceFromPassphrase("other", []byte("salt-salt"))
	require.NoError(t, err)

	s := newSQLite(t, path, good)
	require.True(t, s.Set("42", []byte("secret")))
	require.NoError(t, s.Close())

	reopened := newSQLite(t, path, bad)
	_, ok := reopened.Get("42")
	assert.False(t, ok)
	assert.Equal(t, []string{"42"}, reopened.Keys())
}

func TestSQLiteStorage_BacksCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")
	s := newSQLite(t, path, nil)
	require.True(t, s.Set("42", []byte("legacy-token")))

	store := core.NewCredentialStore(s, zerolog.Nop())
	assert.Equal(t, 1, store.MigrateLegacy())
	require.True(t, store.Store(core.Credential{AccessToken: "T", UserID: "7"}))
	require.NoError(t, s.Close())

	reopened := core.NewCredentialStore(newSQLite(t, path, nil), zerolog.Nop())
	all := reopened.GetAll()
	assert.Len(t, all, 2)
	assert.Equal(t, "legacy-token", all["42"].AccessToken)
	assert.Equal(t, 0, reopened.MigrateLegacy())
}
