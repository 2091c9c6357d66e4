package admission

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"
)

// RedisCounterStore is a CounterStore backed by Redis, shared across engine
// instances so every instance enforces the same ceilings.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// NewRedisCounterStore creates a RedisCounterStore over an existing client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	client := s.client.WithContext(ctx)
	value, err := client.Incr(key).Result()
	if err != nil {
		return 0, err
	}
	// First increment created the key; stamp the window expiry on it.
	if value == 1 && ttl > 0 {
		if err := client.Expire(key, ttl).Err(); err != nil {
			return value, err
		}
	}
	return value, nil
}

func (s *RedisCounterStore) Decrement(ctx context.Context, key string) error {
	return s.client.WithContext(ctx).Decr(key).Err()
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.WithContext(ctx).Get(key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return value, err
}

var _ CounterStore = (*RedisCounterStore)(nil)
