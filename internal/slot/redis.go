package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for slot values
	slotKeyPrefix = "slot:"
	// Default TTL for slot keys (30 days — playground history, not a cache)
	defaultTTL = 30 * 24 * time.Hour
)

// RedisSlot implements Slot on Redis, for deployments where playground
// state must survive instance restarts and be shared across replicas.
type RedisSlot struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlot creates a Redis-backed slot store.
func NewRedisSlot(client *redis.Client, ttl time.Duration) *RedisSlot {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSlot{
		client: client,
		ttl:    ttl,
	}
}

// Read implements Slot. Refreshes TTL on every read so actively used
// identities don't expire.
func (s *RedisSlot) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", key, err)
	}

	// Refresh TTL on read; failure here is not fatal
	_ = s.client.Expire(ctx, s.key(key), s.ttl).Err()

	return val, nil
}

// Write implements Slot.
func (s *RedisSlot) Write(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

// Delete implements Slot.
func (s *RedisSlot) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", key, err)
	}
	return nil
}

// Close implements Slot.
func (s *RedisSlot) Close() error {
	return s.client.Close()
}

func (s *RedisSlot) key(k string) string {
	return slotKeyPrefix + k
}
