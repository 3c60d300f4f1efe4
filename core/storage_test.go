package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"dbxauth/core"
	"dbxauth/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortLived(uid string, expiresAt time.Time) core.Credential {
	return core.Credential{
		AccessToken:  "access_" + uid,
		UserID:       uid,
		RefreshToken: "refresh_" + uid,
		ExpiresAt:    expiresAt,
		Scopes:       []string{"files.content.read"},
	}
}

func TestEncodeCredential_RecordFields(t *testing.T) {
	expiresAt := time.UnixMilli(1700000000123)
	data, err := core.EncodeCredential(shortLived("42", expiresAt))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))

	assert.Equal(t, "access_42", record["accessToken"])
	assert.Equal(t, "42", record["uid"])
	assert.Equal(t, "refresh_42", record["refreshToken"])
	assert.InDelta(t, 1700000000.123, record["tokenExpirationTimestamp"], 1e-6)
	assert.Equal(t, "files.content.read", record["scope"])
}

func TestEncodeCredential_LongLivedOmitsOptionalFields(t *testing.T) {
	data, err := core.EncodeCredential(core.Credential{AccessToken: "T", UserID: "42"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"accessToken":"T","uid":"42"}`, string(data))
}

func TestEncodeCredential_RejectsHalfShortLived(t *testing.T) {
	_, err := core.EncodeCredential(core.Credential{AccessToken: "T", UserID: "42", RefreshToken: "R"})
	assert.Error(t, err)
}

func TestDecodeCredential_RoundTrip(t *testing.T) {
	cred := shortLived("42", time.UnixMilli(1700000000123))
	data, err := core.EncodeCredential(cred)
	require.NoError(t, err)

	decoded, err := core.DecodeCredential(data)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, decoded.AccessToken)
	assert.Equal(t, cred.RefreshToken, decoded.RefreshToken)
	assert.True(t, cred.ExpiresAt.Equal(decoded.ExpiresAt))
	assert.Equal(t, cred.Scopes, decoded.Scopes)
}

func TestDecodeCredential_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":         `raw-token`,
		"missing uid":      `{"accessToken":"T"}`,
		"expiry only":      `{"accessToken":"T","uid":"42","tokenExpirationTimestamp":1700000000}`,
		"refresh only":     `{"accessToken":"T","uid":"42","refreshToken":"R"}`,
		"empty token":      `{"accessToken":"","uid":"42"}`,
		"wrong field type": `{"accessToken":1,"uid":"42"}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := core.DecodeCredential([]byte(raw))
			assert.ErrorIs(t, err, core.ErrInvalidRecord)
		})
	}
}

func newTestStore() (*core.CredentialStore, *storage.MemoryStorage) {
	secure := storage.NewMemoryStorage()
	return core.NewCredentialStore(secure, zerolog.Nop()), secure
}

func TestCredentialStore_StoreAndGet(t *testing.T) {
	store, _ := newTestStore()

	cred := shortLived("42", time.Now().Add(time.Hour).Truncate(time.Millisecond))
	require.True(t, store.Store(cred))

	got := store.Get("42")
	require.NotNil(t, got)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))

	assert.Nil(t, store.Get("missing"))
}

func TestCredentialStore_StoreFailure(t *testing.T) {
	store, secure := newTestStore()
	secure.FailWrites = true

	assert.False(t, store.Store(core.Credential{AccessToken: "T", UserID: "42"}))
	assert.Nil(t, store.Get("42"))
}

func TestCredentialStore_GetSkipsMismatchedUID(t *testing.T) {
	store, secure := newTestStore()
	secure.Set("42", []byte(`{"accessToken":"T","uid":"99"}`))

	assert.Nil(t, store.Get("42"))
	assert.Empty(t, store.GetAll())
}

func TestCredentialStore_GetAllSkipsUnreadable(t *testing.T) {
	store, secure := newTestStore()
	require.True(t, store.Store(core.Credential{AccessToken: "T1", UserID: "1"}))
	require.True(t, store.Store(core.Credential{AccessToken: "T2", UserID: "2"}))
	secure.Set("3", []byte(`{broken`))

	all := store.GetAll()
	assert.Len(t, all, 2)
	assert.Equal(t, "T1", all["1"].AccessToken)
	assert.Equal(t, "T2", all["2"].AccessToken)
}

func TestCredentialStore_DeleteAll(t *testing.T) {
	store, _ := newTestStore()
	require.True(t, store.Store(core.Credential{AccessToken: "T1", UserID: "1"}))
	require.True(t, store.Store(core.Credential{AccessToken: "T2", UserID: "2"}))

	assert.True(t, store.Delete("1"))
	assert.False(t, store.Delete("1"))

	assert.True(t, store.DeleteAll())
	assert.Empty(t, store.GetAll())
}

func TestCredentialStore_MigrateLegacy(t *testing.T) {
	store, secure := newTestStore()
	secure.Set("42", []byte("legacy-token"))
	require.True(t, store.Store(core.Credential{AccessToken: "T", UserID: "7"}))

	assert.Equal(t, 1, store.MigrateLegacy())

	got := store.Get("42")
	require.NotNil(t, got)
	assert.Equal(t, "legacy-token", got.AccessToken)
	assert.False(t, got.IsShortLived())

	// Second run is a no-op even if a legacy value reappears.
	secure.Set("43", []byte("another-legacy-token"))
	assert.Equal(t, 0, store.MigrateLegacy())
	assert.Nil(t, store.Get("43"))

	// The migration marker is not a credential.
	all := store.GetAll()
	assert.Len(t, all, 2)
	store.DeleteAll()
	assert.Equal(t, 0, store.MigrateLegacy())
}
