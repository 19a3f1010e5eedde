package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contactbook-hq/contactbook-backend/internal/config"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
)

// NewRedisClient connects and pings. Callers treat a failure as "run without
// cache", so this returns the error instead of exiting.
func NewRedisClient(cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr(),
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	log.Info("Connected to Redis", "addr", cfg.Addr())
	return client, nil
}
