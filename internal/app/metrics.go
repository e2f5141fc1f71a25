package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/sma-bridge/internal/metrics"
)

// NewMetrics 初始化注册表与应用指标。
// 采集进程与中继进程共用同一套指标名，中继只会写 relay_* 系列，
// 其余保持零值，看板无需区分进程类型。
func NewMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewAppMetrics(reg)
}
