package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/health"
	redisstorage "github.com/taoyao-code/sma-bridge/internal/storage/redis"
)

// NewRedisClient 未启用时返回 (nil, nil)
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis disabled, snapshot cache off")
		return nil, nil
	}
	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB), zap.String("prefix", cfg.KeyPrefix))
	return client, nil
}

// AddRedisChecker client 为 nil 时跳过
func AddRedisChecker(aggregator *health.Aggregator, client *redisstorage.Client) {
	if client != nil {
		aggregator.AddChecker(health.NewRedisChecker(client))
	}
}
