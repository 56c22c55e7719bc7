package redis

import (
	"context"
	"time"

	"fieldops/common/config"
	"fieldops/common/errors"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// pingTimeout Connect 探活上限
const pingTimeout = 3 * time.Second

// NewRedisClient 创建Redis客户端；未配置的池参数沿用 go-redis 默认值
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Connect 创建客户端并探活；探活失败仍返回可用的客户端，调用方决定是否降级
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := Ping(pingCtx, client); err != nil {
		return client, errors.Wrapf(err, "redis %s not reachable", cfg.Addr)
	}
	return client, nil
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
