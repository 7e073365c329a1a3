package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/payment-dashboard/internal/usersapi"
)

const defaultKeyPrefix = "dashboard"

// TokenStore keeps access tokens in Redis so sessions survive restarts and
// are shared between replicas.
type TokenStore struct {
	client *red.Client
	prefix string
}

func NewTokenStore(client *red.Client, prefix string) *TokenStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) key(sessionID string) string {
	return s.prefix + ":token:" + sessionID
}

func (s *TokenStore) Save(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if sessionID == "" || token == "" {
		return fmt.Errorf("session id and token required")
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set access token: %w", err)
	}
	return nil
}

func (s *TokenStore) Load(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", usersapi.ErrTokenNotFound
		}
		return "", fmt.Errorf("redis get access token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete access token: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *TokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ usersapi.TokenStore = (*TokenStore)(nil)
