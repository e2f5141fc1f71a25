//go:build linux

package transport

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// RFCOMM 原生蓝牙 RFCOMM socket
type RFCOMM struct {
	streamTransport
	Addr    sma.Address
	Channel int
}

// NewRFCOMM 创建 RFCOMM 链路，channel 默认 1
func NewRFCOMM(addr sma.Address, channel int) *RFCOMM {
	if channel <= 0 {
		channel = 1
	}
	r := &RFCOMM{Addr: addr, Channel: channel}
	r.dial = r.connect
	return r
}

func (r *RFCOMM) connect(ctx context.Context) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	// bdaddr 与线上地址同为小端顺序
	sa := &unix.SockaddrRFCOMM{Addr: r.Addr, Channel: uint8(r.Channel)}

	done := make(chan error, 1)
	go func() { done <- unix.Connect(fd, sa) }()

	select {
	case err := <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm connect %s: %w", r.Addr, err)
		}
	case <-ctx.Done():
		_ = unix.Close(fd)
		return nil, ctx.Err()
	}

	// 非阻塞后交给 runtime poller，Close 可以唤醒阻塞中的读
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), "rfcomm:"+r.Addr.String()), nil
}
