package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient connects to addr. It returns nil when redis is unreachable so the
// caller can run without a cache.
func NewClient(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis not available. Running without Redis.", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return nil
	}

	log.Info("Redis connected successfully.", zap.String("addr", addr))
	return client
}
