package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// ErrNotOpen 链路未打开
var ErrNotOpen = errors.New("transport not open")

// New 按配置创建链路
func New(cfg cfgpkg.BridgeConfig) (sma.Transport, error) {
	switch cfg.Transport {
	case "rfcomm":
		addr, err := sma.ParseAddress(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("bridge.address: %w", err)
		}
		return NewRFCOMM(addr, cfg.Channel), nil
	case "serial":
		return NewSerial(cfg.Device, cfg.BaudRate), nil
	case "tcp":
		return NewTCP(cfg.TCPAddr), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

type readResult struct {
	data []byte
	err  error
}

// timedReader 在独立 goroutine 中执行阻塞读，调用方按超时等待；
// 超时后未完成的读保留到下次调用，避免并发读同一连接
type timedReader struct {
	mu       sync.Mutex
	r        io.Reader
	inflight chan readResult
	rest     []byte
	bufSize  int
}

func newTimedReader(r io.Reader) *timedReader {
	return &timedReader{r: r, bufSize: 1024}
}

func (t *timedReader) Read(p []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rest) > 0 {
		n := copy(p, t.rest)
		t.rest = t.rest[n:]
		return n, nil
	}

	if t.inflight == nil {
		ch := make(chan readResult, 1)
		r := t.r
		size := t.bufSize
		go func() {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			ch <- readResult{data: buf[:n], err: err}
		}()
		t.inflight = ch
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-t.inflight:
		t.inflight = nil
		n := copy(p, res.data)
		t.rest = res.data[n:]
		if res.err != nil && n == 0 {
			return 0, res.err
		}
		return n, nil
	case <-timer.C:
		return 0, sma.ErrTimeout
	}
}

// streamTransport 基于 io.ReadWriteCloser 的通用实现
type streamTransport struct {
	mu     sync.Mutex
	dial   func(ctx context.Context) (io.ReadWriteCloser, error)
	conn   io.ReadWriteCloser
	reader *timedReader
}

func (s *streamTransport) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = c
	s.reader = newTimedReader(c)
	return nil
}

func (s *streamTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}

func (s *streamTransport) Write(b []byte) (int, error) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return 0, ErrNotOpen
	}
	return c.Write(b)
}

func (s *streamTransport) Read(buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return 0, ErrNotOpen
	}
	return r.Read(buf, timeout)
}
