package store

import (
	"context"
	"time"

	"fieldops/common/errors"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetIfNewer 仅当 version 大于已存版本时写入；值以 "<version> " 为前缀保存
	SetIfNewer(ctx context.Context, key, version, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// setIfNewerScript 版本按字符串比较，调用方保证定宽
var setIfNewerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local sep = string.find(cur, ' ', 1, true)
  if sep and string.sub(cur, 1, sep - 1) >= ARGV[1] then
    return 0
  end
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1] .. ' ' .. ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1] .. ' ' .. ARGV[2])
end
return 1
`)

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) SetIfNewer(ctx context.Context, key, version, value string, ttl time.Duration) (bool, error) {
	n, err := setIfNewerScript.Run(ctx, r.c, []string{key}, version, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "set %s if newer", key)
	}
	return n == 1, nil
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}
