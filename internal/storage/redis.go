package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces every façade key so the server can share a Redis
// database with other tenants of the instance.
const redisKeyPrefix = "issuer" + Separator

// RedisStore is the production implementation of the façade for distributed
// deployments. TTLs map directly onto Redis key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key []string) ([]byte, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+JoinKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return raw, nil
}

func (s *RedisStore) Set(ctx context.Context, key []string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // go-redis treats 0 as "no expiry"
	}
	if err := s.client.Set(ctx, redisKeyPrefix+JoinKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key []string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+JoinKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key []string) ([]byte, error) {
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+JoinKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return raw, nil
}

func (s *RedisStore) List(ctx context.Context, prefix []string) ([][]string, error) {
	flatPrefix := redisKeyPrefix + JoinKey(prefix) + Separator
	pattern := flatPrefix + "*"

	var out [][]string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, SplitKey(strings.TrimPrefix(iter.Val(), flatPrefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
