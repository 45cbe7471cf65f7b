// Package cache provides the Redis-backed session metadata store, for
// deployments that would rather not spend identity-provider API quota on
// cache round-trips.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/compliance-hub/compliance-hub/internal/config"
)

const keyPrefix = "session_snapshot:"

// RedisStore implements the session MetadataStore on a Redis key per user.
// Entries carry no TTL: staleness is decided by the cache gate against the
// snapshot's own timestamp, so an old entry is harmless and an evicted one
// just means a rebuild.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, for sharing a connection
// with the distributed rate limiter.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored snapshot payload, or (nil, nil) when none exists.
func (s *RedisStore) Get(ctx context.Context, userID string) (json.RawMessage, error) {
	raw, err := s.client.Get(ctx, keyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	return raw, nil
}

// Set stores the snapshot payload.
func (s *RedisStore) Set(ctx context.Context, userID string, value json.RawMessage) error {
	if err := s.client.Set(ctx, keyPrefix+userID, []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	return nil
}

// Client exposes the underlying connection for consumers that share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
