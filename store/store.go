// Package store wraps Redis behind a small key/value and set surface used for
// cross-instance state. When Redis is optional (default) the store degrades to
// an in-process fallback on the first error and stays there for the lifetime
// of the process; when REDIS_REQUIRED=true a connect failure is fatal.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nlononosov/Avatars-prod/config"
	"github.com/nlononosov/Avatars-prod/telemetry"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

type Store struct {
	rdb      *redis.Client
	required bool

	mu       sync.Mutex
	degraded bool
	mem      *memoryKV
}

// Connect builds a Store from config. In optional mode a failed ping logs a
// warning and the store starts degraded; in required mode it is an error.
func Connect(ctx context.Context, cfg *config.Config) (*Store, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := &Store{
		rdb:      redis.NewClient(opt),
		required: cfg.RedisRequired,
		mem:      newMemoryKV(),
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.rdb.Ping(pingCtx).Err(); err != nil {
		if cfg.RedisRequired {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.degrade(err)
	}
	return s, nil
}

// NewMemory returns a store that serves everything from process memory. Used
// in tests and available as an explicit deployment choice.
func NewMemory() *Store {
	return &Store{mem: newMemoryKV(), degraded: true}
}

// Degraded reports whether the store has fallen back to in-process state.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Healthy pings Redis. A degraded optional store still reports healthy since
// the in-memory fallback is serving.
func (s *Store) Healthy(ctx context.Context) error {
	if s.useMemory() {
		return nil
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		if s.required {
			return fmt.Errorf("redis ping: %w", err)
		}
		s.degrade(err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

func (s *Store) useMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// degrade flips the store to in-memory mode once. Required stores never
// degrade; callers get the error instead.
func (s *Store) degrade(err error) bool {
	if s.required {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		s.degraded = true
		telemetry.SetStoreDegraded(true)
		slog.Warn("redis unavailable, falling back to in-memory state", slog.Any("err", err))
	}
	return true
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.useMemory() {
		return s.mem.Get(key)
	}
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		if s.degrade(err) {
			return s.mem.Get(key)
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.useMemory() {
		s.mem.SetEx(key, value, ttl)
		return nil
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		if s.degrade(err) {
			s.mem.SetEx(key, value, ttl)
			return nil
		}
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if s.useMemory() {
		s.mem.Del(keys...)
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		if s.degrade(err) {
			s.mem.Del(keys...)
			return nil
		}
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if s.useMemory() {
		s.mem.SAdd(key, members...)
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		if s.degrade(err) {
			s.mem.SAdd(key, members...)
			return nil
		}
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if s.useMemory() {
		s.mem.SRem(key, members...)
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SRem(ctx, key, args...).Err(); err != nil {
		if s.degrade(err) {
			s.mem.SRem(key, members...)
			return nil
		}
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	if s.useMemory() {
		return s.mem.SMembers(key), nil
	}
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		if s.degrade(err) {
			return s.mem.SMembers(key), nil
		}
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

// SetNX sets key to value with ttl only if it does not exist and reports
// whether the set happened.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s.useMemory() {
		return s.mem.SetNX(key, value, ttl), nil
	}
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		if s.degrade(err) {
			return s.mem.SetNX(key, value, ttl), nil
		}
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// CompareAndDelete deletes key only if it still holds value. Reports whether
// the delete happened.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if s.useMemory() {
		return s.mem.CompareAndDelete(key, value), nil
	}
	n, err := compareAndDeleteScript.Run(ctx, s.rdb, []string{key}, value).Int()
	if err != nil {
		if s.degrade(err) {
			return s.mem.CompareAndDelete(key, value), nil
		}
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Publish sends a message to a Redis channel. In memory mode this is a no-op;
// local subscribers are served by the event bus directly.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	if s.useMemory() {
		return nil
	}
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		if s.degrade(err) {
			return nil
		}
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
