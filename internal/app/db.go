package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/gorm"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/migrate"
	"github.com/taoyao-code/sma-bridge/internal/storage/gormrepo"
	pgstorage "github.com/taoyao-code/sma-bridge/internal/storage/pg"
)

// ConnectDBAndMigrate 建立连接池并执行迁移；未启用时返回 nil
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	if !cfg.Enabled {
		log.Info("database is disabled, skipping initialization")
		return nil, nil
	}
	dbpool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.MigrationsDir != "" {
		n, err := migrate.Runner{Dir: cfg.MigrationsDir, Logger: log}.Up(ctx, dbpool)
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			dbpool.Close()
			return nil, err
		}
		log.Info("db migrations applied", zap.Int("count", n))
	}
	return dbpool, nil
}

// OpenGorm 在同一连接池上打开 GORM
func OpenGorm(pool *pgxpool.Pool, log *zap.Logger) (*gorm.DB, error) {
	return gormrepo.Open(pool, log)
}
