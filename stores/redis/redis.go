// Package redis implements storage.SecondaryStorage on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by Secondary.
const DefaultPrefix = "authkit:"

// Secondary stores ephemeral values as plain Redis strings. TTLs map
// directly onto Redis expiry.
type Secondary struct {
	client goredis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix selects DefaultPrefix.
func New(client goredis.UniversalClient, prefix string) *Secondary {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Secondary{client: client, prefix: prefix}
}

func (s *Secondary) key(k string) string { return s.prefix + k }

func (s *Secondary) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Take consumes key with GETDEL.
func (s *Secondary) Take(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Secondary) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Secondary) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
