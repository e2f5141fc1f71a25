package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// TCP 串口服务器/模拟器等以 TCP 暴露 RFCOMM 字节流的场景
type TCP struct {
	streamTransport
	Addr string
}

// NewTCP 创建 TCP 链路
func NewTCP(addr string) *TCP {
	t := &TCP{Addr: addr}
	t.dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		return d.DialContext(ctx, "tcp", t.Addr)
	}
	return t
}
