package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Slot is a persistent string-valued cell per key. The session store keeps
// one JSON snapshot per derived identity key; the schema form builder keeps
// one draft per prompt id.
type Slot interface {
	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores the value under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the value under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the driver.
	Close() error
}

// ErrNotFound is returned by Read when the key has no stored value.
var ErrNotFound = errors.New("slot: key not found")

// Config selects and configures a slot driver.
type Config struct {
	Driver    string // "memory", "sqlite", or "redis"
	Path      string // sqlite database path
	RedisAddr string
	RedisDB   int
	RedisTTL  time.Duration
}

// New creates a slot driver based on config.
func New(cfg Config) (Slot, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemorySlot(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite driver requires a database path")
		}
		return NewSQLiteSlot(cfg.Path)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis driver requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return NewRedisSlot(client, cfg.RedisTTL), nil
	default:
		return nil, fmt.Errorf("unknown slot driver: %s", cfg.Driver)
	}
}
