package directory

import (
	"context"
	"time"

	"github.com/matst80/portmux/internal/obs"
)

// NewStore creates either an in-memory or Redis-mirrored directory store
// based on configuration.
func NewStore(ctx context.Context, redisAddr, redisPassword string, redisDB int) (Store, error) {
	if redisAddr == "" {
		obs.Info("directory.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryStore(), nil
	}
	obs.Info("directory.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return NewRedisStore(ctx, redisAddr, redisPassword, redisDB, 5*time.Minute, 30*time.Second)
}
