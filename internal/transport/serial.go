package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Serial 通过 rfcomm tty（/dev/rfcommN）或串口蓝牙模块通信
type Serial struct {
	streamTransport
	Device   string
	BaudRate int
}

// NewSerial 创建串口链路
func NewSerial(device string, baud int) *Serial {
	if baud <= 0 {
		baud = 115200
	}
	s := &Serial{Device: device, BaudRate: baud}
	s.dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port, err := serial.Open(s.Device, &serial.Mode{
			BaudRate: s.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", s.Device, err)
		}
		return port, nil
	}
	return s
}
