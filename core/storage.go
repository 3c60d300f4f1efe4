package core

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecureStorage persists opaque values keyed by string. Implementations
// report failures as false / not-found rather than errors.
type SecureStorage interface {
	Set(key string, value []byte) bool
	Get(key string) ([]byte, bool)
	Keys() []string
	Delete(key string) bool
	DeleteAll() bool
}

const (
	reservedKeyPrefix = "__dbxauth."
	migrationKey      = reservedKeyPrefix + "migrated.v2"
)

// CredentialStore keeps credentials in a SecureStorage, keyed by user id.
type CredentialStore struct {
	storage SecureStorage
	logger  zerolog.Logger
}

func NewCredentialStore(storage SecureStorage, logger zerolog.Logger) *CredentialStore {
	return &CredentialStore{storage: storage, logger: logger}
}

// GetAll returns every decodable credential keyed by user id.
func (s *CredentialStore) GetAll() map[string]Credential {
	all := make(map[string]Credential)
	for _, key := range s.storage.Keys() {
		if strings.HasPrefix(key, reservedKeyPrefix) {
			continue
		}
		if cred := s.Get(key); cred != nil {
			all[key] = *cred
		}
	}
	return all
}

// Get returns the credential for userID, or nil if absent or unreadable.
func (s *CredentialStore) Get(userID string) *Credential {
	data, ok := s.storage.Get(userID)
	if !ok {
		return nil
	}

	cred, err := DecodeCredential(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("uid", userID).Msg("discarding unreadable credential")
		return nil
	}
	if cred.UserID != userID {
		s.logger.Warn().Str("uid", userID).Msg("credential keyed under a different user id")
		return nil
	}
	return cred
}

func (s *CredentialStore) Store(cred Credential) bool {
	data, err := EncodeCredential(cred)
	if err != nil {
		s.logger.Error().Err(err).Str("uid", cred.UserID).Msg("refusing to store credential")
		return false
	}
	if !s.storage.Set(cred.UserID, data) {
		s.logger.Error().Str("uid", cred.UserID).Msg("secure storage rejected credential")
		return false
	}
	return true
}

func (s *CredentialStore) Delete(userID string) bool {
	return s.storage.Delete(userID)
}

func (s *CredentialStore) DeleteAll() bool {
	ok := true
	for _, key := range s.storage.Keys() {
		if strings.HasPrefix(key, reservedKeyPrefix) {
			continue
		}
		ok = s.storage.Delete(key) && ok
	}
	return ok
}

// MigrateLegacy rewrites credentials stored in the pre-JSON format. It runs
// once per storage and returns the number of migrated entries.
func (s *CredentialStore) MigrateLegacy() int {
	if _, done := s.storage.Get(migrationKey); done {
		return 0
	}

	migrated := 0
	for _, key := range s.storage.Keys() {
		if strings.HasPrefix(key, reservedKeyPrefix) {
			continue
		}
		data, ok := s.storage.Get(key)
		if !ok {
			continue
		}
		if _, err := DecodeCredential(data); err == nil {
			continue
		}
		cred, ok := decodeLegacyCredential(key, data)
		if !ok {
			continue
		}
		if s.Store(*cred) {
			migrated++
		}
	}

	if !s.storage.Set(migrationKey, []byte("1")) {
		s.logger.Warn().Msg("could not record credential migration")
	}
	if migrated > 0 {
		s.logger.Info().Int("count", migrated).Msg("migrated legacy credentials")
	}
	return migrated
}
