// Package cache provides snapshot caches for the projector: a Redis
// backend shared between processes and a no-op one.
//
// Cache keys already carry the ledger head, so entries never go stale;
// the TTL only bounds memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a snapshot cache holding a server connection.
// *Redis and Nop implement it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Nop caches nothing.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Put discards the value.
func (Nop) Put(context.Context, string, []byte) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// Enabled reports whether c actually stores snapshots.
func Enabled(c Cache) bool {
	_, nop := c.(Nop)
	return c != nil && !nop
}

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisConfig locates a Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis caches snapshots in Redis.
type Redis struct {
	client Client
	closer func() error
	ttl    time.Duration
}

// Open connects to the Redis server in cfg, or returns Nop when no
// address is configured.
func Open(cfg RedisConfig) Cache {
	if cfg.Addr == "" {
		return Nop{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	slog.Debug("redis cache", "addr", cfg.Addr, "db", cfg.DB, "ttl", cfg.TTL)
	return &Redis{client: client, closer: client.Close, ttl: cfg.TTL}
}

// NewRedis wraps an existing client. Close leaves the client open.
func NewRedis(client Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get returns the cached value under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// Put stores value under key.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes a client opened by Open.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
