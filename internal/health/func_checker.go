package health

import (
	"context"
	"time"
)

// FuncChecker 以一个探测函数构成的检查器（InfluxDB 等外部导出端）
// 导出端失败只影响下游数据，降级而非不健康
type FuncChecker struct {
	name  string
	probe func(ctx context.Context) error
}

func NewFuncChecker(name string, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, probe: probe}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.probe(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: err.Error(), Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Latency: time.Since(start)}
}
