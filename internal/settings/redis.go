package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPrefix is the Redis key prefix for setting values:
//
//	Key:   settings:<name>
//	Value: <raw string>
//	TTL:   none
const RedisPrefix = "settings:"

// RedisStore manages settings in Redis. Each key is a plain string, so SET
// gives the per-key atomicity the Store contract asks for.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to Redis at addr and verifies the connection.
func DialRedis(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("settings: redis connection failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, key, def string) (string, error) {
	value, ok, err := s.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	return getWithDefault(value, ok, def), nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, RedisPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("settings: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, RedisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Client returns the underlying Redis client for use by other packages.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
