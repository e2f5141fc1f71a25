package app

import (
	"fmt"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/metrics"
	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
	"github.com/taoyao-code/sma-bridge/internal/transport"
)

// LoadTagMap 配置了覆盖文件时加载，否则使用内置表
func LoadTagMap(path string, log *zap.Logger) *sma.TagMap {
	if path == "" {
		return sma.DefaultTagMap()
	}
	tm, err := sma.LoadTagMap(path)
	if err != nil {
		log.Warn("load tag map failed, using defaults", zap.String("path", path), zap.Error(err))
		return sma.DefaultTagMap()
	}
	log.Info("tag map loaded", zap.String("path", path))
	return tm
}

// NewPlantFactory 每个周期新建链路与会话
func NewPlantFactory(cfg cfgpkg.BridgeConfig, tags *sma.TagMap, obs plant.Observer, log *zap.Logger) (poller.Factory, error) {
	version, err := plant.ParseProtocolVersion(cfg.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("bridge.protocolVersion: %w", err)
	}
	root := sma.Broadcast
	if cfg.Address != "" {
		if root, err = sma.ParseAddress(cfg.Address); err != nil {
			return nil, fmt.Errorf("bridge.address: %w", err)
		}
	}
	// 先校验一次传输配置
	if _, err := transport.New(cfg); err != nil {
		return nil, err
	}

	return func() (poller.Plant, error) {
		t, err := transport.New(cfg)
		if err != nil {
			return nil, err
		}
		return plant.New(t, plant.Options{
			Root:           root,
			ConnectRetries: cfg.ConnectRetries,
			ReadTimeout:    cfg.ReadTimeout,
			Version:        version,
			Tags:           tags,
			Logger:         log,
			Observer:       obs,
		}), nil
	}, nil
}

// ResolveMetrics 必查指标加上配置的额外指标
func ResolveMetrics(names []string) ([]sma.Metric, error) {
	var extra []sma.Metric
	for _, name := range names {
		m, ok := sma.MetricByName(name)
		if !ok {
			return nil, fmt.Errorf("bridge.extraMetrics: unknown metric %q", name)
		}
		extra = append(extra, m)
	}
	return poller.WithExtraMetrics(extra), nil
}

// NewPoller 按配置组装轮询器
func NewPoller(cfg cfgpkg.BridgeConfig, factory poller.Factory, appm *metrics.AppMetrics, log *zap.Logger) (*poller.Poller, error) {
	group, err := plant.ParseUserGroup(cfg.UserGroup)
	if err != nil {
		return nil, fmt.Errorf("bridge.userGroup: %w", err)
	}
	ms, err := ResolveMetrics(cfg.ExtraMetrics)
	if err != nil {
		return nil, err
	}

	breaker := poller.NewBreaker(cfg.Breaker.Threshold, cfg.Breaker.Timeout)
	opts := poller.Options{
		Group:    group,
		Password: cfg.Password,
		Metrics:  ms,
		Passes:   cfg.QueryPasses,
		Cycle:    cfg.Cycle,
		Daylight: poller.NewDaylight(cfg.Latitude, cfg.Longitude, cfg.DaylightOffset),
		Limiter:  poller.NewConnectLimiter(cfg.ConnectRate),
		Breaker:  breaker,
		Logger:   log,
	}
	if appm != nil {
		opts.Observer = appm
		breaker.OnStateChange(appm.ObserveBreaker)
	}
	if opts.Daylight == nil {
		log.Info("daylight gate disabled (no coordinates)")
	}
	return poller.New(factory, opts), nil
}
