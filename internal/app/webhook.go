package app

import (
	"net/http"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/thirdparty"
)

// NewWebhookSink 周期结果推送
func NewWebhookSink(cfg cfgpkg.WebhookConfig) *thirdparty.Sink {
	p := thirdparty.NewPusher(&http.Client{Timeout: cfg.Timeout}, cfg.APIKey, cfg.Secret)
	if cfg.Retries >= 0 {
		p.Retries = cfg.Retries
	}
	return &thirdparty.Sink{Pusher: p, URL: cfg.URL}
}
