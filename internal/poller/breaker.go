package poller

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常轮询
	BreakerOpen                         // 连续失败，暂停建链
	BreakerHalfOpen                     // 冷却结束，放行一次试探轮询
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen 熔断期间拒绝轮询
var ErrBreakerOpen = errors.New("poller: circuit breaker is open")

// Breaker 连续建链失败后暂停轮询一段时间，避免反复唤醒根设备
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	trips     int64
	openedAt  time.Time
	changedAt time.Time
	probing   bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	onChange func(from, to BreakerState)
}

// NewBreaker threshold 次连续失败后打开，cooldown 后半开
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		changedAt: time.Now(),
	}
}

// OnStateChange 状态变化回调（同步调用，不得阻塞）
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Call 受熔断保护执行 fn
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil
	case BreakerHalfOpen:
		// 同一时刻只放行一次试探
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		b.transition(BreakerClosed)
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		if b.state != BreakerOpen {
			b.trips++
		}
		b.transition(BreakerOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.changedAt = b.now()
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(BreakerClosed)
}

// Stats 统计信息
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		Failures:        b.failures,
		Trips:           b.trips,
		LastStateChange: b.changedAt,
	}
}

// BreakerStats 熔断器统计
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Trips           int64     `json:"trips"`
	LastStateChange time.Time `json:"last_state_change"`
}
