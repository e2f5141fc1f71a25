package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseChecker 连接池与迁移版本
type DatabaseChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (c *DatabaseChecker) Name() string { return "database" }

// Check 池满视为降级；写入排队但不丢数据
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed: " + err.Error(), Latency: time.Since(start)}
	}

	st := c.pool.Stat()
	details := map[string]interface{}{
		"total_conns":    st.TotalConns(),
		"acquired_conns": st.AcquiredConns(),
		"max_conns":      st.MaxConns(),
	}
	var version int64
	if err := c.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&version); err == nil {
		details["schema_version"] = version
	}

	res := CheckResult{Status: StatusHealthy, Message: "ok", Details: details, Latency: time.Since(start)}
	if st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns() {
		res.Status = StatusDegraded
		res.Message = "connection pool exhausted"
	}
	return res
}
