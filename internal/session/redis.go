package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/cooldialog/internal/config"
)

// RedisBackend keeps each scope in one Redis hash named
// "{prefix}:state:{scope}". The hash expires ttl after its last write.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a Redis-backed backend.
func NewRedisBackend(client redis.Cmdable, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// Load reads the scope hash.
func (b *RedisBackend) Load(ctx context.Context, scope string) (map[string][]byte, error) {
	key := b.key(scope)
	raw, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %q: %w", key, err)
	}
	out := make(map[string][]byte, len(raw))
	for name, v := range raw {
		out[name] = []byte(v)
	}
	return out, nil
}

// Store writes entries and refreshes the expiry in one transaction.
func (b *RedisBackend) Store(ctx context.Context, scope string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	key := b.key(scope)
	values := make([]any, 0, len(entries)*2)
	for name, v := range entries {
		values = append(values, name, v)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		if b.ttl > 0 {
			pipe.Expire(ctx, key, b.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the server.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Driver returns "redis".
func (b *RedisBackend) Driver() string { return config.DriverRedis }

func (b *RedisBackend) key(scope string) string {
	if b.prefix == "" {
		return "state:" + scope
	}
	return b.prefix + ":state:" + scope
}
