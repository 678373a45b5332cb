package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rwa-trader/internal/config"
)

const guardKeyPrefix = "rwa:exec:"

// RedisGuard 使用 SETNX 在多实例间共享成交去重状态。
type RedisGuard struct {
	rdb *redis.Client
}

// NewRedisGuard 连接 Redis 并校验连通性。
func NewRedisGuard(ctx context.Context, cfg config.RedisConfig) (*RedisGuard, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("execution: 连接 redis 失败: %w", err)
	}
	return &RedisGuard{rdb: rdb}, nil
}

// Claim 实现 Guard。
func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, guardKeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("execution: redis 占用 %s 失败: %w", key, err)
	}
	return ok, nil
}

// Close 关闭连接。
func (g *RedisGuard) Close() error {
	return g.rdb.Close()
}

var _ Guard = (*RedisGuard)(nil)
