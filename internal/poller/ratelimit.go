package poller

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ConnectLimiter 建链节流：蓝牙根设备对频繁重连很敏感，两次建链之间至少间隔 1/perSec 秒
type ConnectLimiter struct {
	limiter  *rate.Limiter
	perSec   float64
	granted  atomic.Int64
	canceled atomic.Int64
}

// NewConnectLimiter perSec<=0 时不限速
func NewConnectLimiter(perSec float64) *ConnectLimiter {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &ConnectLimiter{
		limiter: rate.NewLimiter(limit, 1),
		perSec:  perSec,
	}
}

// Wait 阻塞到允许建链或 ctx 结束
func (l *ConnectLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		l.canceled.Add(1)
		return err
	}
	l.granted.Add(1)
	return nil
}

// Stats 统计信息
func (l *ConnectLimiter) Stats() ConnectLimiterStats {
	return ConnectLimiterStats{
		PerSecond:     l.perSec,
		GrantedTotal:  l.granted.Load(),
		CanceledTotal: l.canceled.Load(),
	}
}

// ConnectLimiterStats 节流统计
type ConnectLimiterStats struct {
	PerSecond     float64 `json:"per_second"`
	GrantedTotal  int64   `json:"granted_total"`
	CanceledTotal int64   `json:"canceled_total"`
}
