package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Backend stored in Redis string keys.
//
// A TTL can be applied to every key so abandoned conversation snapshots
// age out of Redis even if the cache never clears them explicitly.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures Redis behavior.
type RedisOption func(*Redis)

// WithRedisTTL sets a per-key expiry applied on Set (0 = no expiry).
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis constructs a Redis-backed Backend from a redis:// URL and
// verifies connectivity with a short ping.
func NewRedis(ctx context.Context, url string, opts ...RedisOption) (*Redis, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("kv: empty redis url")
	}

	rcfg, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rcfg.DialTimeout = 5 * time.Second
	rcfg.ReadTimeout = 3 * time.Second
	rcfg.WriteTimeout = 3 * time.Second
	rcfg.MaxRetries = 3

	client := redis.NewClient(rcfg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	r := &Redis{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Get returns the stored value for key, if any.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if r == nil || r.client == nil {
		return "", false, errors.New("kv: nil backend")
	}

	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value under key, applying the configured TTL if any.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if r == nil || r.client == nil {
		return errors.New("kv: nil backend")
	}
	return r.client.Set(ctx, key, value, r.ttl).Err()
}

// Delete removes key. Deleting a missing key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return errors.New("kv: nil backend")
	}
	return r.client.Del(ctx, key).Err()
}

// Close releases the underlying Redis connection.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
