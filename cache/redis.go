package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/logging"
)

// ErrRedisNotAvailable means no Redis client is configured or reachable.
var ErrRedisNotAvailable = errors.New("redis not available")

// NewClient connects to Redis per config. An empty address disables the
// cache layer entirely and returns (nil, nil); callers treat a nil client as
// cache-off and fall through to the database.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		// Redis不可用时降级为无缓存运行
		logging.Log.Warnf("Redis连接失败: %v", err)
		return nil, errors.Join(ErrRedisNotAvailable, err)
	}

	logging.Log.WithField("addr", cfg.Addr).Info("redis connected")
	return client, nil
}
