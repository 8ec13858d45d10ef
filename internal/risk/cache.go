package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"pick-policy/internal/config"
)

// StatusCache 保存最近一次的状态视图，只服务于展示类读取。
type StatusCache interface {
	Get(ctx context.Context) (Status, bool, error)
	Set(ctx context.Context, status Status) error
}

// NopCache 不缓存任何内容。
type NopCache struct{}

func (NopCache) Get(context.Context) (Status, bool, error) { return Status{}, false, nil }
func (NopCache) Set(context.Context, Status) error { return nil }

const defaultStatusKey = "policy:hardstop:status"

// RedisCache 以 JSON 形式把状态视图写入 redis。
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache 连接 redis 并校验连通性。
func NewRedisCache(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("risk: 连接 redis 失败: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient 复用已有客户端。
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: defaultStatusKey, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (Status, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("risk: redis get: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, false, fmt.Errorf("risk: 解析状态缓存失败: %w", err)
	}
	return status, true, nil
}

func (c *RedisCache) Set(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("risk: 序列化状态失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("risk: redis set: %w", err)
	}
	return nil
}

// Close 关闭 redis 连接。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
