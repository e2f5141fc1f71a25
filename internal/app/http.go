package app

import (
	"net/http"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/httpserver"
)

// NewHTTPServer 指标关闭时不挂载 /metrics
func NewHTTPServer(cfg cfgpkg.HTTPConfig, m cfgpkg.MetricsConfig, metricsHandler http.Handler, readyFn func() bool, log *zap.Logger) *httpserver.Server {
	opts := httpserver.Options{MetricsPath: m.Path, Ready: readyFn, Logger: log}
	if m.Enable {
		opts.Metrics = metricsHandler
	}
	return httpserver.New(cfg, opts)
}
