package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/sma-bridge/internal/health"
	"github.com/taoyao-code/sma-bridge/internal/storage/influx"
)

// NewHealthAggregator 数据库启用时带上数据库检查器
func NewHealthAggregator(dbpool *pgxpool.Pool) *health.Aggregator {
	agg := health.NewAggregator()
	if dbpool != nil {
		agg.AddChecker(health.NewDatabaseChecker(dbpool))
	}
	return agg
}

// RegisterHealthRoutes 注册健康检查路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddPollerChecker 添加轮询检查器
func AddPollerChecker(aggregator *health.Aggregator, src health.PollerSource, cycle time.Duration) {
	aggregator.AddChecker(health.NewPollerChecker(src, cycle))
}

// AddInfluxChecker 导出端可用性
func AddInfluxChecker(aggregator *health.Aggregator, w *influx.Writer) {
	if w != nil {
		aggregator.AddChecker(health.NewFuncChecker("influx", w.Health))
	}
}
