package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taoyao-code/sma-bridge/internal/poller"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 协议、会话与轮询指标
// 同时实现 plant.Observer 与 poller.Observer，核心包不直接依赖 prometheus
type AppMetrics struct {
	FramesTotal       *prometheus.CounterVec // labels: dir=tx|rx, cmd
	FrameErrorsTotal  *prometheus.CounterVec // labels: kind
	SessionState      prometheus.Gauge       // 会话状态码
	PollCyclesTotal   *prometheus.CounterVec // labels: result=ok|error|skipped|rejected
	MetricFailures    *prometheus.CounterVec // labels: metric
	InverterOnline    prometheus.Gauge
	InverterKnown     prometheus.Gauge
	PlantACPower      prometheus.Gauge
	PlantEnergyTotal  prometheus.Gauge
	PlantEnergyToday  prometheus.Gauge
	PlantUacMax       prometheus.Gauge
	BreakerState      prometheus.Gauge // 0 closed, 1 open, 2 half_open
	BreakerTripsTotal prometheus.Counter
	RelaySessions     *prometheus.CounterVec // labels: result
	RelayBytes        *prometheus.CounterVec // labels: dir=up|down
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sma_frames_total",
			Help: "Transport frames sent and received by command.",
		}, []string{"dir", "cmd"}),
		FrameErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sma_frame_errors_total",
			Help: "Frames dropped by decode error kind.",
		}, []string{"kind"}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sma_session_state",
			Help: "Current session state (0 disconnected .. 5 logged_off).",
		}),
		PollCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poll_cycles_total",
			Help: "Poll cycles by result.",
		}, []string{"result"}),
		MetricFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poll_metric_failures_total",
			Help: "Metrics left unresolved after all query passes.",
		}, []string{"metric"}),
		InverterOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inverter_online",
			Help: "Inverters that answered during the last cycle.",
		}),
		InverterKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inverter_known",
			Help: "Inverters seen since start.",
		}),
		PlantACPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plant_ac_power_watts",
			Help: "Plant AC output power.",
		}),
		PlantEnergyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plant_energy_total_kwh",
			Help: "Plant lifetime energy yield.",
		}),
		PlantEnergyToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plant_energy_today_kwh",
			Help: "Plant energy yield of the current day.",
		}),
		PlantUacMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plant_uac_max_volts",
			Help: "Highest phase voltage across inverters.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poll_breaker_state",
			Help: "Poll circuit breaker state (0 closed, 1 open, 2 half_open).",
		}),
		BreakerTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poll_breaker_trips_total",
			Help: "Times the poll circuit breaker opened.",
		}),
		RelaySessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "TCP relay connections by outcome.",
		}, []string{"result"}),
		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bytes_total",
			Help: "Bytes forwarded by the TCP relay.",
		}, []string{"dir"}),
	}
	reg.MustRegister(m.FramesTotal, m.FrameErrorsTotal, m.SessionState, m.PollCyclesTotal, m.MetricFailures,
		m.InverterOnline, m.InverterKnown, m.PlantACPower, m.PlantEnergyTotal, m.PlantEnergyToday, m.PlantUacMax,
		m.BreakerState, m.BreakerTripsTotal, m.RelaySessions, m.RelayBytes)
	return m
}

func (m *AppMetrics) ObserveFrame(dir string, cmd uint16) {
	m.FramesTotal.WithLabelValues(dir, fmt.Sprintf("0x%04X", cmd)).Inc()
}

func (m *AppMetrics) ObserveFrameError(kind string) {
	m.FrameErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *AppMetrics) ObserveState(state int) {
	m.SessionState.Set(float64(state))
}

func (m *AppMetrics) ObserveCycle(result string) {
	m.PollCyclesTotal.WithLabelValues(result).Inc()
}

func (m *AppMetrics) ObserveMetricFailure(metric string) {
	m.MetricFailures.WithLabelValues(metric).Inc()
}

func (m *AppMetrics) ObserveInverters(online, known int) {
	m.InverterOnline.Set(float64(online))
	m.InverterKnown.Set(float64(known))
}

// ObserveTotals 汇总项缺失时保留上一次的值
func (m *AppMetrics) ObserveTotals(t poller.Totals) {
	setIf(m.PlantACPower, t.TotalPac)
	setIf(m.PlantEnergyTotal, t.EnergyTotal)
	setIf(m.PlantEnergyToday, t.EnergyToday)
	setIf(m.PlantUacMax, t.UacMax)
}

// ObserveBreaker 作为 Breaker.OnStateChange 回调
func (m *AppMetrics) ObserveBreaker(_, to poller.BreakerState) {
	m.BreakerState.Set(float64(to))
	if to == poller.BreakerOpen {
		m.BreakerTripsTotal.Inc()
	}
}

func (m *AppMetrics) ObserveRelaySession(result string) {
	m.RelaySessions.WithLabelValues(result).Inc()
}

func (m *AppMetrics) ObserveRelayBytes(dir string, n int) {
	m.RelayBytes.WithLabelValues(dir).Add(float64(n))
}

func setIf(g prometheus.Gauge, v *float64) {
	if v != nil {
		g.Set(*v)
	}
}
