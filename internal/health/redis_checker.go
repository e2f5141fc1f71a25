package health

import (
	"context"
	"time"

	redisstorage "github.com/taoyao-code/sma-bridge/internal/storage/redis"
)

// RedisChecker 快照缓存；缓存不可用时轮询照常，只降级
type RedisChecker struct {
	client *redisstorage.Client
}

func NewRedisChecker(client *redisstorage.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: "ping failed: " + err.Error(), Latency: time.Since(start)}
	}
	st := c.client.Stats()
	return CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]interface{}{
			"total_conns": st.TotalConns,
			"idle_conns":  st.IdleConns,
			"timeouts":    st.Timeouts,
		},
		Latency: time.Since(start),
	}
}
