package plant

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// scriptTransport 按脚本回放读数据，并逐条核对写出的字节
type scriptTransport struct {
	reads  [][]byte // 空元素表示一次读超时
	cur    []byte
	expect [][]byte // nil 表示不核对
	writes [][]byte

	openFails int
	opens     int
	closed    bool
}

func (s *scriptTransport) Open(context.Context) error {
	s.opens++
	if s.opens <= s.openFails {
		return errors.New("host is down")
	}
	return nil
}

func (s *scriptTransport) Close() error {
	s.closed = true
	return nil
}

func (s *scriptTransport) Write(b []byte) (int, error) {
	idx := len(s.writes)
	s.writes = append(s.writes, append([]byte(nil), b...))
	if s.expect != nil {
		if idx >= len(s.expect) {
			return 0, fmt.Errorf("unexpected write #%d: % X", idx, b)
		}
		if string(s.expect[idx]) != string(b) {
			return 0, fmt.Errorf("write #%d mismatch\n got: % X\nwant: % X", idx, b, s.expect[idx])
		}
	}
	return len(b), nil
}

func (s *scriptTransport) Read(buf []byte, _ time.Duration) (int, error) {
	if len(s.cur) == 0 {
		if len(s.reads) == 0 {
			return 0, sma.ErrTimeout
		}
		s.cur, s.reads = s.reads[0], s.reads[1:]
		if len(s.cur) == 0 {
			return 0, sma.ErrTimeout
		}
	}
	n := copy(buf, s.cur)
	s.cur = s.cur[n:]
	return n, nil
}

func (s *scriptTransport) addRead(b ...[]byte) { s.reads = append(s.reads, b...) }

// fakeClock 依次返回给定秒数，用尽后停在最后一个
type fakeClock struct {
	secs []int64
	idx  int
	tz   int
}

func (c *fakeClock) Now() time.Time {
	i := c.idx
	if i >= len(c.secs) {
		i = len(c.secs) - 1
	} else {
		c.idx++
	}
	return time.Unix(c.secs[i], 0)
}

func (c *fakeClock) TimezoneOffset(time.Time) int { return c.tz }

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

func mustAddr(t *testing.T, s string) sma.Address {
	t.Helper()
	a, err := sma.ParseAddress(s)
	require.NoError(t, err)
	return a
}

// rawFrame 构造非 PPP 的传输帧
func rawFrame(t *testing.T, src, dst sma.Address, cmd uint16, payload []byte) []byte {
	t.Helper()
	b, err := (&sma.TransportFrame{Source: src, Destination: dst, Command: cmd, Payload: payload}).Encode()
	require.NoError(t, err)
	return b
}

// appReply 构造一台逆变器的应用层应答帧
func appReply(t *testing.T, src, dst sma.Address, serial sma.Serial, pcktID uint16, body []byte) []byte {
	t.Helper()
	app := &sma.AppFrame{
		DstClass:    0xA0,
		DstSUSyID:   sma.AppSUSyID,
		SrcSUSyID:   serial.SUSyID,
		SrcSerial:   serial.Number,
		PacketIDRaw: pcktID,
		Body:        body,
	}
	return rawFrame(t, src, dst, sma.CmdPPP, sma.NewLinkFrame(app.Encode()).Encode())
}

type stateRecorder struct {
	states []State
	frames int
}

func (r *stateRecorder) ObserveFrame(string, uint16) { r.frames++ }
func (r *stateRecorder) ObserveFrameError(string)    {}
func (r *stateRecorder) ObserveState(s int)          { r.states = append(r.states, State(s)) }
