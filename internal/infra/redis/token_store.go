package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/fleetcall/internal/core/domain"
)

// TokenStore implements auth.TokenStore using Redis so that separate
// fleetcall processes share one token.
type TokenStore struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

// NewTokenStore creates a token store under the given name, usually the
// API endpoint the token is valid for.
func NewTokenStore(client *Client, name string) *TokenStore {
	return &TokenStore{
		rdb: client.rdb,
		key: client.key("token", name),
		now: time.Now,
	}
}

// Get returns the stored credential, or a zero credential if none is stored.
func (s *TokenStore) Get(ctx context.Context) (domain.Credential, error) {
	var cred domain.Credential

	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cred, nil
	}
	if err != nil {
		return cred, fmt.Errorf("get token: %w", err)
	}

	if err := json.Unmarshal(data, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return cred, nil
}

// Set stores cred until it expires. Credentials without expiry are kept
// until overwritten.
func (s *TokenStore) Set(ctx context.Context, cred domain.Credential) error {
	var ttl time.Duration
	if !cred.ExpiresAt.IsZero() {
		ttl = cred.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

// Clear removes the stored credential.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
