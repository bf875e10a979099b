// Package cache defines a small TTL cache used for presigned URL reuse.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a byte-value cache with per-key TTL.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error
}
