package core

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

var ErrInvalidRecord = errors.New("invalid credential record")

// credentialRecord is the stable storage format. Field names must not change.
type credentialRecord struct {
	AccessToken              string   `json:"accessToken"`
	UID                      string   `json:"uid"`
	RefreshToken             *string  `json:"refreshToken,omitempty"`
	TokenExpirationTimestamp *float64 `json:"tokenExpirationTimestamp,omitempty"`
	Scope                    *string  `json:"scope,omitempty"`
}

// EncodeCredential serializes a credential into its storage record.
func EncodeCredential(cred Credential) ([]byte, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	rec := credentialRecord{
		AccessToken: cred.AccessToken,
		UID:         cred.UserID,
	}
	if cred.IsShortLived() {
		refresh := cred.RefreshToken
		ts := float64(cred.ExpiresAt.UnixMilli()) / 1000
		rec.RefreshToken = &refresh
		rec.TokenExpirationTimestamp = &ts
	}
	if len(cred.Scopes) > 0 {
		scope := strings.Join(cred.Scopes, " ")
		rec.Scope = &scope
	}

	return json.Marshal(rec)
}

// DecodeCredential parses a storage record.
func DecodeCredential(data []byte) (*Credential, error) {
	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Join(ErrInvalidRecord, err)
	}

	cred := &Credential{
		AccessToken: rec.AccessToken,
		UserID:      rec.UID,
	}
	if rec.RefreshToken != nil {
		cred.RefreshToken = *rec.RefreshToken
	}
	if rec.TokenExpirationTimestamp != nil {
		cred.ExpiresAt = time.UnixMilli(int64(math.Round(*rec.TokenExpirationTimestamp * 1000)))
	}
	if rec.Scope != nil {
		cred.Scopes = strings.Fields(*rec.Scope)
	}

	if err := cred.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidRecord, err)
	}
	return cred, nil
}

// decodeLegacyCredential accepts the pre-JSON format, where the stored value
// was the bare long-lived access token keyed by uid.
func decodeLegacyCredential(userID string, data []byte) (*Credential, bool) {
	token := strings.TrimSpace(string(data))
	if token == "" || strings.HasPrefix(token, "{") || strings.ContainsAny(token, " \t\n") {
		return nil, false
	}
	return &Credential{AccessToken: token, UserID: userID}, true
}
