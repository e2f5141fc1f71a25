package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// 周期下限
const MinCycle = 10 * time.Second

// DefaultPasses 未解析指标的最大查询轮数
const DefaultPasses = 3

// RequiredMetrics 每个周期必查的指标
var RequiredMetrics = []sma.Metric{
	sma.SoftwareVersion,
	sma.TypeLabel,
	sma.DeviceStatus,
	sma.MaxACPower,
	sma.EnergyProduction,
	sma.SpotACVoltage,
	sma.SpotACTotalPower,
}

// Plant 单个周期使用的会话，*plant.Session 实现该接口
type Plant interface {
	Init(ctx context.Context) error
	Logon(ctx context.Context, group plant.UserGroup, password string) error
	SetInverterTime(ctx context.Context) error
	Query(ctx context.Context, m sma.Metric) (*plant.QueryResult, error)
	Logoff(ctx context.Context) error
	Close() error
	Inverters() []plant.Inverter
	Snapshot(serial sma.Serial) (*plant.Snapshot, bool)
}

// Factory 每个周期新建一个会话（含新的传输链路）
type Factory func() (Plant, error)

// Observer 周期级观测（指标）
type Observer interface {
	ObserveCycle(result string)
	ObserveMetricFailure(metric string)
	ObserveInverters(online, known int)
	ObserveTotals(t Totals)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string)         {}
func (nopObserver) ObserveMetricFailure(string) {}
func (nopObserver) ObserveInverters(int, int)   {}
func (nopObserver) ObserveTotals(Totals)        {}

// Options 轮询参数
type Options struct {
	Group    plant.UserGroup
	Password string
	// Metrics 为空时使用 RequiredMetrics
	Metrics []sma.Metric
	Passes  int
	Cycle   time.Duration

	Daylight *Daylight
	Limiter  *ConnectLimiter
	Breaker  *Breaker
	Registry *Registry
	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

func (o *Options) setDefaults() {
	if len(o.Metrics) == 0 {
		o.Metrics = RequiredMetrics
	}
	if o.Passes <= 0 {
		o.Passes = DefaultPasses
	}
	if o.Cycle < MinCycle {
		o.Cycle = MinCycle
	}
	if o.Limiter == nil {
		o.Limiter = NewConnectLimiter(0)
	}
	if o.Breaker == nil {
		o.Breaker = NewBreaker(0, 0)
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// WithExtraMetrics 在必查指标后追加额外指标（去重）
func WithExtraMetrics(extra []sma.Metric) []sma.Metric {
	out := append([]sma.Metric(nil), RequiredMetrics...)
	seen := make(map[string]bool, len(out))
	for _, m := range out {
		seen[m.Name] = true
	}
	for _, m := range extra {
		if !seen[m.Name] {
			seen[m.Name] = true
			out = append(out, m)
		}
	}
	return out
}

// CycleReport 单个周期的摘要
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	Duration   time.Duration
	Skipped    bool
	Inverters  int
	Online     int
	Unresolved []string
	Totals     Totals
}

// Poller 周期性建链、登录、查询并分发结果
type Poller struct {
	factory Factory
	opts    Options
	logger  *zap.Logger

	// 同一时刻只允许一个周期占用蓝牙链路
	mu    sync.Mutex
	sinks []namedSink
}

// New 创建轮询器
func New(factory Factory, opts Options) *Poller {
	opts.setDefaults()
	return &Poller{
		factory: factory,
		opts:    opts,
		logger:  opts.Logger.Named("poller"),
	}
}

// AddSink 注册下游，须在 Run 之前调用
func (p *Poller) AddSink(name string, s Sink) {
	p.sinks = append(p.sinks, namedSink{name: name, sink: s})
}

// Registry 结果视图
func (p *Poller) Registry() *Registry { return p.opts.Registry }

// Breaker 熔断器
func (p *Poller) Breaker() *Breaker { return p.opts.Breaker }

// Run 按周期轮询直到 ctx 结束；启动时立即执行一次
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Cycle)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.Duration("cycle", p.opts.Cycle), zap.Int("metrics", len(p.opts.Metrics)))
	for {
		if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("cycle returned error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycleData 会话中得到的数据
type cycleData struct {
	inverters []plant.Inverter
	snapshots map[sma.Serial]*plant.Snapshot
	responded map[sma.Serial]bool
}

// Cycle 执行一个完整周期
func (p *Poller) Cycle(ctx context.Context) (*CycleReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.Now()
	rep := &CycleReport{ID: uuid.NewString(), StartedAt: now}
	log := p.logger.With(zap.String("cycle_id", rep.ID))

	if !p.opts.Daylight.Allowed(now) {
		rep.Skipped = true
		p.opts.Registry.MarkSkipped(rep.ID, now)
		p.opts.Observer.ObserveCycle("skipped")
		log.Debug("outside daylight window, cycle skipped")
		return rep, nil
	}

	if err := p.opts.Limiter.Wait(ctx); err != nil {
		return rep, err
	}

	var data *cycleData
	err := p.opts.Breaker.Call(func() error {
		var err error
		data, err = p.poll(ctx, log, rep)
		return err
	})
	rep.Duration = p.opts.Now().Sub(now)

	if errors.Is(err, ErrBreakerOpen) {
		p.opts.Observer.ObserveCycle("rejected")
		log.Warn("circuit breaker open, cycle rejected", zap.Any("breaker", p.opts.Breaker.Stats()))
		return rep, err
	}

	readings := p.readings(log, data, now)
	var online []*plant.Snapshot
	for _, rd := range readings {
		if rd.Online {
			online = append(online, rd.Snapshot)
			rep.Online++
		}
	}
	rep.Totals = ComputeTotals(online)

	p.opts.Registry.Update(rep.ID, now, readings, rep.Totals, err)
	ps := p.opts.Registry.Plant()
	p.opts.Observer.ObserveInverters(ps.Online, ps.Known)
	if err == nil {
		p.opts.Observer.ObserveTotals(rep.Totals)
	}
	p.publish(ctx, log, rep.ID, readings)

	if err != nil {
		p.opts.Observer.ObserveCycle("error")
		// 刚日出或即将日落时逆变器经常不应答
		if p.opts.Daylight.Twilight(now) {
			log.Info("cycle failed near twilight", zap.Error(err))
		} else {
			log.Error("cycle failed", zap.Error(err))
		}
		return rep, err
	}

	p.opts.Observer.ObserveCycle("ok")
	log.Info("cycle finished",
		zap.Int("inverters", rep.Inverters),
		zap.Int("online", rep.Online),
		zap.Strings("unresolved", rep.Unresolved),
		zap.Duration("took", rep.Duration))
	return rep, nil
}

// poll 建链、登录、对时、多轮查询、注销
func (p *Poller) poll(ctx context.Context, log *zap.Logger, rep *CycleReport) (*cycleData, error) {
	pl, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("create plant: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			log.Debug("close plant", zap.Error(err))
		}
	}()

	if err := pl.Init(ctx); err != nil {
		return nil, err
	}
	data := &cycleData{
		inverters: pl.Inverters(),
		snapshots: make(map[sma.Serial]*plant.Snapshot),
		responded: make(map[sma.Serial]bool),
	}
	rep.Inverters = len(data.inverters)

	if err := pl.Logon(ctx, p.opts.Group, p.opts.Password); err != nil {
		return data, err
	}
	if err := pl.SetInverterTime(ctx); err != nil {
		log.Warn("set inverter time", zap.Error(err))
	}

	remaining := append([]sma.Metric(nil), p.opts.Metrics...)
	var queryErr error
	for pass := 0; pass < p.opts.Passes && len(remaining) > 0 && queryErr == nil; pass++ {
		next := remaining[:0]
		for _, m := range remaining {
			if queryErr != nil {
				next = append(next, m)
				continue
			}
			res, err := pl.Query(ctx, m)
			if err != nil {
				queryErr = err
				next = append(next, m)
				continue
			}
			for _, s := range res.OK {
				data.responded[s] = true
			}
			if len(res.Failed) > 0 {
				next = append(next, m)
			}
		}
		remaining = next
		if len(remaining) > 0 {
			log.Debug("query pass incomplete", zap.Int("pass", pass+1), zap.Int("remaining", len(remaining)))
		}
	}
	for _, m := range remaining {
		rep.Unresolved = append(rep.Unresolved, m.Name)
		p.opts.Observer.ObserveMetricFailure(m.Name)
		log.Error("metric unresolved", zap.Stringer("metric", m))
	}

	for _, inv := range data.inverters {
		if snap, ok := pl.Snapshot(inv.Serial); ok {
			data.snapshots[inv.Serial] = snap
		}
	}

	if queryErr != nil {
		return data, queryErr
	}
	if err := pl.Logoff(ctx); err != nil {
		log.Warn("logoff", zap.Error(err))
	}
	return data, nil
}

// readings 本周期应答过的设备为在线，其余（含之前出现过、本周期未发现的）为离线。
// 未识别出序列号的设备不产生读数。
func (p *Poller) readings(log *zap.Logger, data *cycleData, at time.Time) []InverterReading {
	var out []InverterReading
	seen := make(map[sma.Serial]bool)
	if data != nil {
		for _, inv := range data.inverters {
			if inv.Serial.IsZero() {
				log.Warn("inverter not identified, no reading", zap.Stringer("address", inv.Address))
				continue
			}
			seen[inv.Serial] = true
			rd := InverterReading{Serial: inv.Serial, At: at}
			if data.responded[inv.Serial] {
				rd.Online = true
				rd.Snapshot = data.snapshots[inv.Serial]
			}
			out = append(out, rd)
		}
	}
	for _, s := range p.opts.Registry.Known() {
		if !seen[s] {
			out = append(out, InverterReading{Serial: s, At: at})
		}
	}
	return out
}

func (p *Poller) publish(ctx context.Context, log *zap.Logger, cycleID string, readings []InverterReading) {
	if len(readings) == 0 {
		return
	}
	for _, ns := range p.sinks {
		if err := ns.sink.Publish(ctx, cycleID, readings); err != nil {
			log.Warn("publish failed", zap.String("sink", ns.name), zap.Error(err))
		}
	}
}
