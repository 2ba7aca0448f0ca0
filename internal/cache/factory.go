package cache

import (
	"context"
	"fmt"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
)

// NewClientFromConfig builds the backend selected by cfg.Driver.
func NewClientFromConfig(ctx context.Context, cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileClient(cfg.Dir)
	case "memory":
		return NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		return NewRedisClient(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}
