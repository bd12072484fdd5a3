package cvapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore persists tokens in a Redis key shared across processes.
type RedisTokenStore struct {
	client *redis.Client
	key    string
}

// NewRedisTokenStore creates a token store backed by the given Redis client.
func NewRedisTokenStore(client *redis.Client, key string) (*RedisTokenStore, error) {
	if client == nil || key == "" {
		return nil, ErrRedisKeyRequired
	}

	return &RedisTokenStore{client: client, key: key}, nil
}

// Read implements TokenStore.Read.
func (s *RedisTokenStore) Read(ctx context.Context) (*TokenInfo, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading token from redis: %w", err)
	}

	return decodeStoredToken(data)
}

// Write implements TokenStore.Write.
func (s *RedisTokenStore) Write(ctx context.Context, info *TokenInfo) error {
	data, err := encodeStoredToken(info)
	if err != nil {
		return err
	}

	err = s.client.Set(ctx, s.key, data, 0).Err()
	if err != nil {
		return fmt.Errorf("writing token to redis: %w", err)
	}

	return nil
}

// Clear implements TokenStore.Clear.
func (s *RedisTokenStore) Clear(ctx context.Context) error {
	err := s.client.Del(ctx, s.key).Err()
	if err != nil {
		return fmt.Errorf("clearing token from redis: %w", err)
	}

	return nil
}
