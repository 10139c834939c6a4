// ABOUTME: Redis-backed HandleStore for sharing conversation handles across replicas
// ABOUTME: Uses SETNX so the first writer's handle wins; optional TTL bounds handle lifetime

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces registry keys.
const DefaultKeyPrefix = "clinic:conversation:"

// RedisStore keeps handles in Redis under prefix+userID.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a go-redis client. A zero ttl keeps handles forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) LookupConversation(ctx context.Context, userID string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return id, true, nil
}

func (s *RedisStore) SaveConversation(ctx context.Context, userID, id string) (string, error) {
	ok, err := s.client.SetNX(ctx, s.key(userID), id, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return id, nil
	}

	stored, found, err := s.LookupConversation(ctx, userID)
	if err != nil {
		return "", err
	}
	if !found {
		// Expired between SETNX and GET, so the slot is free again.
		if err := s.client.Set(ctx, s.key(userID), id, s.ttl).Err(); err != nil {
			return "", fmt.Errorf("redis set: %w", err)
		}
		return id, nil
	}
	return stored, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
