package health

import (
	"context"
	"time"
)

// Status 检查结论。
// healthy：链路轮询正常且下游可写；
// degraded：轮询照常，但可选下游（redis、influx）不可用或熔断打开，仍算就绪；
// unhealthy：数据库不可达或轮询停滞超过三个周期。
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult 单项检查结果；Details 放连接池统计、最近周期号等排障信息
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 由聚合器并发调用，须自行遵守 ctx 超时
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
