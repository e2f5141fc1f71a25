package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// Opener 每个中继会话打开一条新的本地链路
type Opener func() (sma.Transport, error)

// Observer 中继观测
type Observer interface {
	// result: accepted|busy|throttled|rejected|link_error
	ObserveRelaySession(result string)
	// dir: up（客户端 -> 逆变器）| down
	ObserveRelayBytes(dir string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveRelaySession(string)    {}
func (nopObserver) ObserveRelayBytes(string, int) {}

// Server 把本机蓝牙链路以 TCP 暴露给远端的桥接进程（transport=tcp）
type Server struct {
	cfg     cfgpkg.RelayConfig
	open    Opener
	logger  *zap.Logger
	obs     Observer
	limiter *ConnectionLimiter
	rate    *RateLimiter

	ln     net.Listener
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64
}

// New 创建中继
func New(cfg cfgpkg.RelayConfig, open Opener, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		open:    open,
		logger:  logger.Named("relay"),
		obs:     nopObserver{},
		limiter: NewConnectionLimiter(cfg.MaxSessions, 0),
		rate:    NewRateLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetObserver 设置指标观测
func (s *Server) SetObserver(o Observer) {
	if o != nil {
		s.obs = o
	}
}

// Addr 实际监听地址（端口为 0 时有用）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start 监听并接受连接（非阻塞）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()), zap.Int("max_sessions", s.limiter.Stats().MaxConnections))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.accept(conn)
		}
	}()
	return nil
}

func (s *Server) accept(conn net.Conn) {
	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	if !s.rate.Allow() {
		s.obs.ObserveRelaySession("throttled")
		log.Warn("relay connection throttled")
		_ = conn.Close()
		return
	}
	if err := s.limiter.Acquire(s.ctx); err != nil {
		s.obs.ObserveRelaySession("busy")
		log.Warn("relay connection rejected", zap.Error(err))
		_ = conn.Close()
		return
	}

	id := s.nextID.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer conn.Close()
		s.serve(conn, log.With(zap.Uint64("session", id)))
	}()
}

func (s *Server) serve(conn net.Conn, log *zap.Logger) {
	t, err := s.open()
	if err == nil {
		err = t.Open(s.ctx)
	}
	if err != nil {
		s.obs.ObserveRelaySession("link_error")
		log.Error("open local link", zap.Error(err))
		return
	}
	defer func() { _ = t.Close() }()

	s.obs.ObserveRelaySession("accepted")
	log.Info("relay session started")
	start := time.Now()
	err = s.relay(s.ctx, conn, t)
	switch {
	case errors.Is(err, ErrNotSMA):
		s.obs.ObserveRelaySession("rejected")
		log.Warn("relay session rejected", zap.Error(err))
	default:
		log.Info("relay session ended", zap.Duration("took", time.Since(start)), zap.NamedError("reason", err))
	}
}

// Stats 会话与限速统计
func (s *Server) Stats() (LimiterStats, RateLimiterStats) {
	return s.limiter.Stats(), s.rate.Stats()
}

// Shutdown 关闭监听并结束所有会话
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
