package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
)

// Options 可选组件
type Options struct {
	// MetricsPath 为空时 /metrics；Metrics 为 nil 时不注册
	MetricsPath string
	Metrics     http.Handler
	// Ready 为 nil 视为始终就绪
	Ready  func() bool
	Logger *zap.Logger
}

// Server gin 引擎 + http.Server
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// New 注册 /healthz /readyz 与指标路由
func New(cfg cfgpkg.HTTPConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(opts.Logger, opts.MetricsPath))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Ready != nil && !opts.Ready() {
			c.String(http.StatusServiceUnavailable, "not-ready")
			return
		}
		c.String(http.StatusOK, "ready")
	})
	if opts.Metrics != nil {
		r.GET(opts.MetricsPath, gin.WrapH(opts.Metrics))
	}

	return &Server{
		engine: r,
		logger: opts.Logger,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

// accessLog 探活与抓取路径只在 debug 级别记录
func accessLog(log *zap.Logger, metricsPath string) gin.HandlerFunc {
	quiet := map[string]bool{"/healthz": true, "/readyz": true, metricsPath: true}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		}
		if quiet[c.Request.URL.Path] {
			log.Debug("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

// Register 追加路由，须在 Start 之前调用
func (s *Server) Register(fn func(r *gin.Engine)) { fn(s.engine) }

// Handler 测试直接驱动
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start 阻塞直到 Shutdown；正常关闭不返回错误
func (s *Server) Start() error {
	s.logger.Info("http listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
