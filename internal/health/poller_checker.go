package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/poller"
)

// PollerSource 轮询器状态
type PollerSource interface {
	Registry() *poller.Registry
	Breaker() *poller.Breaker
}

// PollerChecker 逆变器轮询健康检查器
type PollerChecker struct {
	src PollerSource
	// 超过 staleAfter 没有完成周期视为卡死
	staleAfter time.Duration
	now        func() time.Time
}

// NewPollerChecker cycle 为轮询周期，3 个周期无结果判为不健康
func NewPollerChecker(src PollerSource, cycle time.Duration) *PollerChecker {
	return &PollerChecker{src: src, staleAfter: 3 * cycle, now: time.Now}
}

// Name 返回检查器名称
func (c *PollerChecker) Name() string {
	return "poller"
}

// Check 执行健康检查
func (c *PollerChecker) Check(ctx context.Context) CheckResult {
	start := c.now()
	ps := c.src.Registry().Plant()
	bs := c.src.Breaker().Stats()

	details := map[string]interface{}{
		"cycle_id":         ps.CycleID,
		"known":            ps.Known,
		"online":           ps.Online,
		"skipped":          ps.Skipped,
		"breaker_state":    bs.State,
		"breaker_failures": bs.Failures,
	}

	status := StatusHealthy
	message := "ok"

	switch {
	case ps.LastCycle.IsZero():
		// 首个周期尚未完成
		message = "no cycle yet"
	case start.Sub(ps.LastCycle) > c.staleAfter:
		status = StatusUnhealthy
		message = fmt.Sprintf("no cycle for %s", start.Sub(ps.LastCycle).Truncate(time.Second))
	case bs.State != poller.BreakerClosed.String():
		status = StatusDegraded
		message = "circuit breaker " + bs.State
	case ps.LastError != "":
		status = StatusDegraded
		message = ps.LastError
	case !ps.Skipped && ps.Known > 0 && ps.Online < ps.Known:
		status = StatusDegraded
		message = fmt.Sprintf("%d of %d inverters offline", ps.Known-ps.Online, ps.Known)
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: c.now().Sub(start),
	}
}
