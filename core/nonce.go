package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// PendingAuth is what an authorization attempt leaves behind while it waits
// for its redirect.
type PendingAuth struct {
	Flow         Flow   `json:"flow"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// NonceStore associates single-use nonces with pending attempts.
type NonceStore interface {
	Put(ctx context.Context, nonce string, pending PendingAuth, ttl time.Duration) error
	// Take returns and removes the entry. A missing or expired nonce yields false.
	Take(ctx context.Context, nonce string) (*PendingAuth, bool)
}

func newNonce() string {
	return uuid.NewString()
}

// MemoryNonceStore keeps nonces in process memory with expiry.
type MemoryNonceStore struct {
	mu    sync.Mutex // makes Take atomic
	cache *gocache.Cache
}

func NewMemoryNonceStore(defaultTTL time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		cache: gocache.New(defaultTTL, defaultTTL),
	}
}

func (s *MemoryNonceStore) Put(ctx context.Context, nonce string, pending PendingAuth, ttl time.Duration) error {
	s.cache.Set(nonce, pending, ttl)
	return nil
}

func (s *MemoryNonceStore) Take(ctx context.Context, nonce string) (*PendingAuth, bool) {
	s.mu.Lock()
	value, found := s.cache.Get(nonce)
	if found {
		s.cache.Delete(nonce)
	}
	s.mu.Unlock()

	if !found {
		return nil, false
	}

	pending, ok := value.(PendingAuth)
	if !ok {
		return nil, false
	}
	return &pending, true
}
