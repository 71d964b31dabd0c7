package database

import (
	"context"
	"fmt"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/redis/go-redis/v9"
)

// NewRedis 建立Redis连接，用于应答与检索结果缓存。
func NewRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})

	// 测试连接
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connected")
	return rdb, nil
}

func CloseRedis(rdb *redis.Client) error {
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}
