package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dbxauth/core"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisNonceStore implements core.NonceStore backed by Redis, for hosts
// where the redirect may be delivered to a different process than the one
// that started the attempt.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    zerolog.Logger
}

var _ core.NonceStore = (*RedisNonceStore)(nil)

func NewRedisNonceStore(client redis.UniversalClient, keyPrefix string, logger zerolog.Logger) *RedisNonceStore {
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix, logger: logger}
}

// Put stores the pending attempt with TTL.
func (s *RedisNonceStore) Put(ctx context.Context, nonce string, pending core.PendingAuth, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending auth: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+nonce, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist nonce: %w", err)
	}
	return nil
}

// Take atomically loads and deletes the pending attempt.
func (s *RedisNonceStore) Take(ctx context.Context, nonce string) (*core.PendingAuth, bool) {
	payload, err := s.client.GetDel(ctx, s.keyPrefix+nonce).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Error().Err(err).Msg("failed to load nonce")
		}
		return nil, false
	}

	var pending core.PendingAuth
	if err := json.Unmarshal(payload, &pending); err != nil {
		s.logger.Warn().Err(err).Msg("discarding undecodable nonce entry")
		return nil, false
	}
	return &pending, true
}
