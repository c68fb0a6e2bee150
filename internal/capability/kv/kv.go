// Package kv is a Redis-backed key/value capability for rules that need
// state across events, such as "remind at most once a day".
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solatis/gears/internal/rules"
)

// Capability names.
const (
	Get    = "kv.get"
	Set    = "kv.set"
	Incr   = "kv.incr"
	Delete = "kv.del"
	Once   = "kv.once"
)

// Config selects the Redis server.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Store namespaces rule keys under a prefix.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect Redis: %w", err)
	}
	return NewStore(rdb, cfg.Prefix), nil
}

// NewStore wraps an existing client.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "gears:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores value; ttl zero means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// Incr increments an integer counter and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("kv incr %q: %w", key, err)
	}
	return n, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("kv del %q: %w", key, err)
	}
	return nil
}

// Once reports true the first time it is called for key within ttl.
func (s *Store) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv once %q: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Register adds the kv.* capabilities. TTLs are given in seconds.
func Register(reg *rules.Registry, s *Store) error {
	caps := []struct {
		name string
		fn   any
	}{
		{Get, func(ctx context.Context, key string) (string, error) {
			v, _, err := s.Get(ctx, key)
			return v, err
		}},
		{Set, func(ctx context.Context, key, value string, ttlSeconds int) error {
			return s.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second)
		}},
		{Incr, s.Incr},
		{Delete, s.Delete},
		{Once, func(ctx context.Context, key string, ttlSeconds int) (bool, error) {
			return s.Once(ctx, key, time.Duration(ttlSeconds)*time.Second)
		}},
	}
	for _, c := range caps {
		if err := reg.Register(c.name, c.fn); err != nil {
			return err
		}
	}
	return nil
}
