package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
)

// Client go-redis 客户端 + 键前缀
type Client struct {
	*redis.Client
	prefix string
}

// NewClient 连接并探活；探活失败时关闭连接
func NewClient(cfg cfgpkg.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(options(cfg))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return Wrap(rdb, cfg.KeyPrefix), nil
}

func options(cfg cfgpkg.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Wrap 使用已有连接
func Wrap(rdb *redis.Client, prefix string) *Client {
	return &Client{Client: rdb, prefix: prefix}
}

// Key 前缀 + 以冒号连接的各段，如 sma:snapshot:125:2130212345
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

func (c *Client) HealthCheck(ctx context.Context) error { return c.Ping(ctx).Err() }

func (c *Client) Stats() *redis.PoolStats { return c.PoolStats() }
