//go:build !linux

package transport

import (
	"context"
	"errors"
	"io"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// RFCOMM 非 Linux 平台不支持原生 socket，请使用 serial 或 tcp
type RFCOMM struct {
	streamTransport
	Addr    sma.Address
	Channel int
}

func NewRFCOMM(addr sma.Address, channel int) *RFCOMM {
	r := &RFCOMM{Addr: addr, Channel: channel}
	r.dial = func(context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("rfcomm socket is only supported on linux")
	}
	return r
}
