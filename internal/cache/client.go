// Package cache provides the content-addressed result cache and its backends.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by a Client when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Client is a byte-oriented key/value backend. ResultStore layers the
// result envelope and key scheme on top of it.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl keeps it until deleted or evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}
