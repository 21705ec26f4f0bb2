package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/config"
)

// ErrRedisDisabled is returned by Ping when no address was configured.
var ErrRedisDisabled = errors.New("redis not configured")

// Redis holds the client backing the shared append rate limiter. A zero
// value means limits are enforced per process.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for cfg.Addr. An unreachable server is logged
// but not fatal: the limiter fails open until it comes back.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; using in-process rate limiting")
		return &Redis{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
