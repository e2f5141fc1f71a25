package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

var (
	serialA = sma.Serial{SUSyID: 0x80, Number: 2130212892}
	serialB = sma.Serial{SUSyID: 0x80, Number: 2130212893}
)

// snapWith 构造带数值记录的快照
func snapWith(serial sma.Serial, values map[sma.LRI]uint64) *plant.Snapshot {
	s := &plant.Snapshot{Serial: serial, Values: make(map[sma.Key]sma.Record)}
	for l, v := range values {
		s.Values[sma.Key{LRI: l}] = sma.Record{LRI: l, Value: sma.Value{Kind: sma.KindULong, U: v}}
	}
	return s
}

// fakePlant 按脚本返回查询结果
type fakePlant struct {
	mu sync.Mutex

	inverters []plant.Inverter
	snapshots map[sma.Serial]*plant.Snapshot

	initErr  error
	logonErr error
	// answers 指标名 -> 每次调用的结果（用尽后重复最后一个）
	answers  map[string][]queryAnswer
	queries  map[string]int
	loggedOn bool
	logoffs  int
	closed   bool
}

type queryAnswer struct {
	ok     []sma.Serial
	failed []sma.Serial
	err    error
}

func newFakePlant(serials ...sma.Serial) *fakePlant {
	fp := &fakePlant{
		snapshots: make(map[sma.Serial]*plant.Snapshot),
		answers:   make(map[string][]queryAnswer),
		queries:   make(map[string]int),
	}
	for i, s := range serials {
		fp.inverters = append(fp.inverters, plant.Inverter{NetID: 4, Serial: s, Identified: true, Address: sma.Address{byte(i + 1)}})
		fp.snapshots[s] = snapWith(s, map[sma.LRI]uint64{
			sma.MeteringTotWhOut: 1000000,
			sma.MeteringDyWhOut:  5000,
			sma.GridMsTotW:       1500,
			sma.GridMsPhVphsA:    23000 + uint64(i)*100,
		})
	}
	return fp
}

func (f *fakePlant) Init(context.Context) error { return f.initErr }

func (f *fakePlant) Logon(context.Context, plant.UserGroup, string) error {
	if f.logonErr != nil {
		return f.logonErr
	}
	f.loggedOn = true
	return nil
}

func (f *fakePlant) SetInverterTime(context.Context) error { return nil }

func (f *fakePlant) Query(_ context.Context, m sma.Metric) (*plant.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.queries[m.Name]
	f.queries[m.Name]++

	script, ok := f.answers[m.Name]
	if !ok {
		var all []sma.Serial
		for _, inv := range f.inverters {
			all = append(all, inv.Serial)
		}
		return &plant.QueryResult{Metric: m, OK: all}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	a := script[n]
	if a.err != nil {
		return nil, a.err
	}
	return &plant.QueryResult{Metric: m, OK: a.ok, Failed: a.failed}, nil
}

func (f *fakePlant) Logoff(context.Context) error {
	f.logoffs++
	return nil
}

func (f *fakePlant) Close() error {
	f.closed = true
	return nil
}

func (f *fakePlant) Inverters() []plant.Inverter { return f.inverters }

func (f *fakePlant) Snapshot(serial sma.Serial) (*plant.Snapshot, bool) {
	s, ok := f.snapshots[serial]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// recordingObserver 记录观测调用
type recordingObserver struct {
	cycles   []string
	failures []string
	online   int
	known    int
	totals   *Totals
}

func (o *recordingObserver) ObserveCycle(r string)          { o.cycles = append(o.cycles, r) }
func (o *recordingObserver) ObserveMetricFailure(m string)  { o.failures = append(o.failures, m) }
func (o *recordingObserver) ObserveInverters(online, k int) { o.online, o.known = online, k }
func (o *recordingObserver) ObserveTotals(t Totals)         { o.totals = &t }

func newTestPoller(fp *fakePlant, obs Observer) *Poller {
	return New(func() (Plant, error) { return fp, nil }, Options{Observer: obs})
}

func TestPollerCycle(t *testing.T) {
	t.Run("两台全部应答", func(t *testing.T) {
		fp := newFakePlant(serialA, serialB)
		obs := &recordingObserver{}
		p := newTestPoller(fp, obs)

		var published []InverterReading
		p.AddSink("test", SinkFunc(func(_ context.Context, id string, rds []InverterReading) error {
			assert.NotEmpty(t, id)
			published = rds
			return nil
		}))

		rep, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Inverters)
		assert.Equal(t, 2, rep.Online)
		assert.Empty(t, rep.Unresolved)
		require.NotNil(t, rep.Totals.EnergyTotal)
		assert.InDelta(t, 2000.0, *rep.Totals.EnergyTotal, 1e-9)
		require.NotNil(t, rep.Totals.UacMax)
		assert.InDelta(t, 231.0, *rep.Totals.UacMax, 1e-9)

		assert.True(t, fp.loggedOn)
		assert.Equal(t, 1, fp.logoffs)
		assert.True(t, fp.closed)
		for _, m := range RequiredMetrics {
			assert.Equal(t, 1, fp.queries[m.Name], m.Name)
		}

		require.Len(t, published, 2)
		assert.True(t, published[0].Online)
		assert.Equal(t, []string{"ok"}, obs.cycles)
		assert.Equal(t, 2, obs.online)
		require.NotNil(t, obs.totals)

		st, ok := p.Registry().Inverter(serialB)
		require.True(t, ok)
		assert.True(t, st.Online)
		assert.NotNil(t, st.Snapshot)
	})

	t.Run("第二轮补齐", func(t *testing.T) {
		fp := newFakePlant(serialA, serialB)
		fp.answers[sma.SpotACTotalPower.Name] = []queryAnswer{
			{ok: []sma.Serial{serialA}, failed: []sma.Serial{serialB}},
			{ok: []sma.Serial{serialA, serialB}},
		}
		p := newTestPoller(fp, nil)

		rep, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, rep.Unresolved)
		assert.Equal(t, 2, fp.queries[sma.SpotACTotalPower.Name])
		assert.Equal(t, 1, fp.queries[sma.DeviceStatus.Name])
	})

	t.Run("三轮仍失败记为未解析", func(t *testing.T) {
		fp := newFakePlant(serialA, serialB)
		fp.answers[sma.MaxACPower.Name] = []queryAnswer{
			{ok: []sma.Serial{serialA}, failed: []sma.Serial{serialB}},
		}
		obs := &recordingObserver{}
		p := newTestPoller(fp, obs)

		rep, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"MaxACPower"}, rep.Unresolved)
		assert.Equal(t, DefaultPasses, fp.queries[sma.MaxACPower.Name])
		assert.Equal(t, []string{"MaxACPower"}, obs.failures)
		// B 在其他指标上应答过，仍算在线
		assert.Equal(t, 2, rep.Online)
	})

	t.Run("整周期无应答的设备离线", func(t *testing.T) {
		fp := newFakePlant(serialA, serialB)
		for _, m := range RequiredMetrics {
			fp.answers[m.Name] = []queryAnswer{{ok: []sma.Serial{serialA}, failed: []sma.Serial{serialB}}}
		}
		p := newTestPoller(fp, nil)

		rep, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Online)
		assert.Len(t, rep.Unresolved, len(RequiredMetrics))

		st, ok := p.Registry().Inverter(serialB)
		require.True(t, ok)
		assert.False(t, st.Online)
		assert.Nil(t, st.Snapshot)
		// 只有在线设备参与汇总
		require.NotNil(t, rep.Totals.TotalPac)
		assert.InDelta(t, 1500.0, *rep.Totals.TotalPac, 1e-9)
	})

	t.Run("链路错误终止周期", func(t *testing.T) {
		fp := newFakePlant(serialA)
		linkErr := &sma.TransportError{Op: "read", Err: errors.New("device gone")}
		fp.answers[sma.TypeLabel.Name] = []queryAnswer{{err: linkErr}}
		obs := &recordingObserver{}
		p := newTestPoller(fp, obs)

		rep, err := p.Cycle(context.Background())
		require.Error(t, err)
		var te *sma.TransportError
		assert.ErrorAs(t, err, &te)
		assert.Equal(t, 0, fp.logoffs)
		assert.True(t, fp.closed)
		assert.Equal(t, 1, rep.Online)
		assert.Equal(t, []string{"error"}, obs.cycles)
		assert.Nil(t, obs.totals)
		assert.Contains(t, p.Registry().Plant().LastError, "device gone")
	})

	t.Run("初始化失败时已知设备离线", func(t *testing.T) {
		fp := newFakePlant(serialA)
		p := newTestPoller(fp, nil)
		_, err := p.Cycle(context.Background())
		require.NoError(t, err)

		fp.initErr = plant.ErrNoInverters
		_, err = p.Cycle(context.Background())
		require.ErrorIs(t, err, plant.ErrNoInverters)

		st, ok := p.Registry().Inverter(serialA)
		require.True(t, ok)
		assert.False(t, st.Online)
		// 离线后保留最后一次快照
		assert.NotNil(t, st.Snapshot)
		assert.Equal(t, 0, p.Registry().Plant().Online)
	})

	t.Run("下游失败不影响周期", func(t *testing.T) {
		fp := newFakePlant(serialA)
		p := newTestPoller(fp, nil)
		calls := 0
		p.AddSink("broken", SinkFunc(func(context.Context, string, []InverterReading) error {
			calls++
			return errors.New("down")
		}))
		p.AddSink("ok", SinkFunc(func(context.Context, string, []InverterReading) error {
			calls++
			return nil
		}))
		_, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestPollerUnidentifiedInverter(t *testing.T) {
	fp := newFakePlant(serialA)
	// 拓扑里有但识别未应答，没有序列号
	fp.inverters = append(fp.inverters, plant.Inverter{NetID: 4, Address: sma.Address{9}})
	fp.answers[sma.SpotACTotalPower.Name] = []queryAnswer{{ok: []sma.Serial{serialA}}}
	obs := &recordingObserver{}
	p := newTestPoller(fp, obs)

	var published []InverterReading
	p.AddSink("test", SinkFunc(func(_ context.Context, _ string, rds []InverterReading) error {
		published = rds
		return nil
	}))

	for i := 0; i < 2; i++ {
		rep, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Inverters)
		assert.Equal(t, 1, rep.Online)
	}

	require.Len(t, published, 1)
	assert.Equal(t, serialA, published[0].Serial)
	assert.Equal(t, []sma.Serial{serialA}, p.Registry().Known())
	ps := p.Registry().Plant()
	assert.Equal(t, 1, ps.Known)
	assert.Equal(t, 1, ps.Online)
	assert.Equal(t, 1, obs.known)
	_, ok := p.Registry().Inverter(sma.Serial{})
	assert.False(t, ok)
}

func TestPollerDaylightSkip(t *testing.T) {
	fp := newFakePlant(serialA)
	cest := time.FixedZone("CEST", 2*3600)
	midnight := time.Date(2024, 6, 21, 0, 30, 0, 0, cest)
	obs := &recordingObserver{}
	created := 0
	p := New(func() (Plant, error) {
		created++
		return fp, nil
	}, Options{
		Daylight: NewDaylight(48.1, 11.6, 450*time.Second),
		Observer: obs,
		Now:      func() time.Time { return midnight },
	})

	rep, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, 0, created)
	assert.Equal(t, []string{"skipped"}, obs.cycles)
	assert.True(t, p.Registry().Plant().Skipped)
	assert.EqualValues(t, 1, p.Registry().Cycles())
}

func TestPollerBreakerRejects(t *testing.T) {
	created := 0
	br := NewBreaker(2, time.Hour)
	p := New(func() (Plant, error) {
		created++
		return nil, errors.New("no adapter")
	}, Options{Breaker: br})

	for i := 0; i < 2; i++ {
		_, err := p.Cycle(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, br.State())

	_, err := p.Cycle(context.Background())
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, created)
}

func TestPollerRun(t *testing.T) {
	fp := newFakePlant(serialA)
	p := newTestPoller(fp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.AddSink("cancel", SinkFunc(func(context.Context, string, []InverterReading) error {
		cancel()
		return nil
	}))
	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, p.Registry().Cycles())
}

func TestWithExtraMetrics(t *testing.T) {
	ms := WithExtraMetrics([]sma.Metric{sma.SpotDCPower, sma.TypeLabel, sma.SpotDCPower})
	assert.Len(t, ms, len(RequiredMetrics)+1)
	assert.Equal(t, sma.SpotDCPower, ms[len(ms)-1])
}

func TestOptionsDefaults(t *testing.T) {
	p := New(nil, Options{Cycle: time.Second})
	assert.Equal(t, MinCycle, p.opts.Cycle)
	assert.Equal(t, DefaultPasses, p.opts.Passes)
	assert.Equal(t, RequiredMetrics, p.opts.Metrics)
	assert.NotNil(t, p.Registry())
	assert.NotNil(t, p.Breaker())
}
