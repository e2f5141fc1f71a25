package tcpserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// ErrNotSMA 客户端首包不是 SMA 传输帧
var ErrNotSMA = errors.New("relay: client is not speaking sma transport frames")

// 下行轮询间隔，同时决定会话结束的响应时间
const pollInterval = 200 * time.Millisecond

// Sniff 首包初判：同步字节；满 4 字节时再校验头部异或
func Sniff(p []byte) bool {
	if len(p) == 0 || p[0] != sma.FlagByte {
		return false
	}
	if len(p) < 4 {
		return true
	}
	return p[3] == sma.HeaderChecksum(binary.LittleEndian.Uint16(p[1:3]))
}

// relay 双向转发直到任一侧结束、客户端空闲超时或 ctx 取消
func (s *Server) relay(ctx context.Context, conn net.Conn, t sma.Transport) error {
	upErr := make(chan error, 1)
	go func() { upErr <- s.pumpUp(conn, t) }()

	buf := make([]byte, 1024)
	for {
		select {
		case err := <-upErr:
			return err
		case <-ctx.Done():
			_ = conn.Close()
			<-upErr
			return ctx.Err()
		default:
		}

		n, err := t.Read(buf, pollInterval)
		if errors.Is(err, sma.ErrTimeout) {
			continue
		}
		if err != nil {
			_ = conn.Close()
			<-upErr
			return fmt.Errorf("local link read: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if _, err := conn.Write(buf[:n]); err != nil {
			_ = conn.Close()
			<-upErr
			return fmt.Errorf("client write: %w", err)
		}
		s.obs.ObserveRelayBytes("down", n)
	}
}

// pumpUp 客户端 -> 本地链路；首包先过 Sniff
func (s *Server) pumpUp(conn net.Conn, t sma.Transport) error {
	buf := make([]byte, 1024)
	first := true
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			if first {
				first = false
				if !Sniff(buf[:n]) {
					return fmt.Errorf("%w: % X", ErrNotSMA, buf[:min(n, 8)])
				}
			}
			if _, werr := t.Write(buf[:n]); werr != nil {
				return fmt.Errorf("local link write: %w", werr)
			}
			s.obs.ObserveRelayBytes("up", n)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("client idle for %s", s.cfg.IdleTimeout)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
