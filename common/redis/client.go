package redis

import (
	"context"
	"fmt"
	"time"

	"smartclock/common/config"

	"github.com/go-redis/redis/v8"
)

// Redis 只保存看板快照和设备时区，连不上时调用方回退到内存 KV，超时要短
const (
	dialTimeout = 2 * time.Second
	ioTimeout   = time.Second
	poolSize    = 4
	pingTimeout = 3 * time.Second
)

// NewRedisClient 创建 KV 使用的 Redis 客户端（不会立即连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		PoolSize:     poolSize,
	})
}

// Ping 启动时探测 Redis 是否可用
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", client.Options().Addr, err)
	}
	return nil
}
