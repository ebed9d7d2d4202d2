package store

import (
	"context"
	"time"
)

// KV is the durable shared state store boundary: string keys, string values,
// per-key expiry. Redis satisfies it in production; Memory stands in for tests
// and redis-less development.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value with a TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent; reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Keys returns keys matching a redis-style glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Expire refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
