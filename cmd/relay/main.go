package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/app"
	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/logging"
	"github.com/taoyao-code/sma-bridge/internal/metrics"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
	"github.com/taoyao-code/sma-bridge/internal/tcpserver"
	"github.com/taoyao-code/sma-bridge/internal/transport"
)

// relay 运行在靠近逆变器、有蓝牙适配器的主机上；桥接进程以 transport=tcp 连接它
func main() {
	configPath := flag.String("config", "", "config file (default $SMA_CONFIG or configs/example.yaml)")
	flag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if cfg.Bridge.Transport == "tcp" {
		logger.Fatal("relay needs a local link, set bridge.transport to rfcomm or serial")
	}

	reg, appm := app.NewMetrics()
	httpSrv := app.NewHTTPServer(cfg.HTTP, cfg.Metrics, metrics.Handler(reg), nil, logger)
	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	srv := tcpserver.New(cfg.Relay, func() (sma.Transport, error) { return transport.New(cfg.Bridge) }, logger)
	srv.SetObserver(appm)
	if err := srv.Start(); err != nil {
		logger.Fatal("relay start failed", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = httpSrv.Shutdown(ctx)
	logger.Info("relay stopped")
}
