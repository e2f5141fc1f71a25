package tcpserver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ConnectionLimiter 并发会话上限（信号量）；蓝牙链路独占，中继通常为 1
type ConnectionLimiter struct {
	sem      chan struct{}
	timeout  time.Duration
	active   atomic.Int64
	rejected atomic.Int64
}

// NewConnectionLimiter timeout 为等待许可的最长时间，0 表示不等待
func NewConnectionLimiter(maxConn int, timeout time.Duration) *ConnectionLimiter {
	if maxConn <= 0 {
		maxConn = 1
	}
	return &ConnectionLimiter{sem: make(chan struct{}, maxConn), timeout: timeout}
}

// Acquire 获取许可
func (l *ConnectionLimiter) Acquire(ctx context.Context) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
	}
	if l.timeout <= 0 {
		l.rejected.Add(1)
		return fmt.Errorf("link busy: max=%d", cap(l.sem))
	}
	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return fmt.Errorf("link busy: max=%d", cap(l.sem))
	}
}

// Release 释放许可
func (l *ConnectionLimiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
	default:
	}
}

// LimiterStats 统计
type LimiterStats struct {
	MaxConnections    int   `json:"max_connections"`
	ActiveConnections int   `json:"active_connections"`
	RejectedTotal     int64 `json:"rejected_total"`
}

func (l *ConnectionLimiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConnections:    cap(l.sem),
		ActiveConnections: int(l.active.Load()),
		RejectedTotal:     l.rejected.Load(),
	}
}
