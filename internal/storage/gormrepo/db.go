package gormrepo

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 复用已有 pgx 连接池打开 GORM
func Open(pool *pgxpool.Pool, log *zap.Logger) (*gorm.DB, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if log != nil {
		log.Debug("gorm opened on pgx pool")
	}
	return db, nil
}
