package sma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/logging"
)

// DefaultReadTimeout 单次等待应答超时
const DefaultReadTimeout = 15 * time.Second

// 连续帧错误上限，超过后放弃本次等待
const maxFrameErrors = 8

// Transport 字节流链路
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Write(b []byte) (int, error)
	// Read 阻塞读取，timeout 内无数据返回 ErrTimeout
	Read(buf []byte, timeout time.Duration) (int, error)
}

// Observer 帧级观测（指标）
type Observer interface {
	ObserveFrame(dir string, cmd uint16)
	ObserveFrameError(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveFrame(string, uint16) {}
func (nopObserver) ObserveFrameError(string)    {}

// Conn 在 Transport 上收发 TransportFrame，负责按源地址/命令等待与分片重组
type Conn struct {
	t        Transport
	logger   *zap.Logger
	observer Observer

	Local       Address
	Peer        Address
	ReadTimeout time.Duration

	// 最近一次匹配帧的源地址
	lastSource Address
}

// NewConn 创建连接
func NewConn(t Transport, peer Address, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		t:           t,
		logger:      logger,
		observer:    nopObserver{},
		Peer:        peer,
		ReadTimeout: DefaultReadTimeout,
	}
}

// SetObserver 设置观测器
func (c *Conn) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// LastSource 最近一次匹配帧的源地址
func (c *Conn) LastSource() Address { return c.lastSource }

// Send 发送原始命令帧
func (c *Conn) Send(dst Address, cmd uint16, payload []byte) error {
	f := &TransportFrame{Source: c.Local, Destination: dst, Command: cmd, Payload: payload}
	b, err := f.Encode()
	if err != nil {
		return err
	}
	c.logger.Debug("send frame",
		zap.Uint16("cmd", cmd),
		zap.Stringer("dst", dst),
		logging.Hex("data", b))
	if _, err := c.t.Write(b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	c.observer.ObserveFrame("tx", cmd)
	return nil
}

// SendApp 发送承载应用层帧的 PPP 帧
func (c *Conn) SendApp(dst Address, app *AppFrame) error {
	return c.Send(dst, CmdPPP, NewLinkFrame(app.Encode()).Encode())
}

func (c *Conn) readFull(ctx context.Context, buf []byte, deadline time.Time) error {
	for n := 0; n < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return ErrTimeout
		}
		m, err := c.t.Read(buf[n:], left)
		n += m
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return err
			}
			if n >= len(buf) {
				break
			}
			return &TransportError{Op: "read", Err: err}
		}
	}
	return nil
}

// ReadFrame 读取一帧
func (c *Conn) ReadFrame(ctx context.Context) (*TransportFrame, error) {
	deadline := time.Now().Add(c.ReadTimeout)
	head := make([]byte, TransportHeaderLen)
	if err := c.readFull(ctx, head, deadline); err != nil {
		return nil, err
	}
	h, err := ParseTransportHeader(head)
	if err != nil {
		c.observer.ObserveFrameError(errorKind(err))
		return nil, err
	}
	payload := make([]byte, h.PayloadLen())
	if err := c.readFull(ctx, payload, deadline); err != nil {
		if errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: payload", ErrTruncated)
			c.observer.ObserveFrameError(errorKind(err))
		}
		return nil, err
	}
	c.logger.Debug("recv frame",
		zap.Uint16("cmd", h.Command),
		zap.Stringer("src", h.Source),
		logging.Hex("data", append(head, payload...)))
	c.observer.ObserveFrame("rx", h.Command)
	return &TransportFrame{Source: h.Source, Destination: h.Destination, Command: h.Command, Payload: payload}, nil
}

// Receive 等待来自 Peer、命令为 cmd（或 CmdAny）的帧
func (c *Conn) Receive(ctx context.Context, cmd uint16) (*TransportFrame, error) {
	return c.receive(ctx, c.Peer, cmd)
}

func (c *Conn) receive(ctx context.Context, from Address, cmd uint16) (*TransportFrame, error) {
	errCount := 0
	for {
		f, err := c.ReadFrame(ctx)
		if err != nil {
			if IsFrameError(err) && errCount < maxFrameErrors {
				errCount++
				c.logger.Warn("drop bad frame", zap.Error(err))
				continue
			}
			return nil, err
		}
		if !from.Matches(f.Source) {
			c.logger.Warn("frame from unexpected source",
				zap.Stringer("src", f.Source),
				zap.Stringer("want", from),
				zap.Uint16("cmd", f.Command))
			continue
		}
		c.lastSource = f.Source
		if f.Command == cmd || cmd == CmdAny {
			return f, nil
		}
		c.logger.Debug("skip frame", zap.Uint16("cmd", f.Command), zap.Uint16("want", cmd))
	}
}

// Packet 重组后的应用层应答
type Packet struct {
	Source Address
	App    *AppFrame
}

// ReceiveApp 从任意源接收应用层帧（分片按同源拼接，直到命令为 cmd 的帧结束）
func (c *Conn) ReceiveApp(ctx context.Context, cmd uint16) (*Packet, error) {
	return c.ReceiveAppFrom(ctx, Broadcast, cmd)
}

// ReceiveAppFrom 同 ReceiveApp，限定源地址
func (c *Conn) ReceiveAppFrom(ctx context.Context, from Address, cmd uint16) (*Packet, error) {
	var (
		buf      []byte
		bufSrc   Address
		errCount int
	)
	for {
		f, err := c.receive(ctx, from, CmdAny)
		if err != nil {
			return nil, err
		}
		isPPP := f.Command == CmdPPP || f.Command == CmdPPPMore
		if isPPP && HasPPPHeader(f.Payload) {
			buf = append([]byte(nil), f.Payload...)
			bufSrc = f.Source
		} else if isPPP && buf != nil && f.Source == bufSrc {
			buf = append(buf, f.Payload...)
		}
		if f.Command != cmd {
			continue
		}
		if buf == nil || f.Source != bufSrc {
			c.logger.Debug("frame without ppp header", zap.Stringer("src", f.Source), zap.Uint16("cmd", f.Command))
			continue
		}

		pkt, err := c.parsePacket(bufSrc, buf)
		buf = nil
		if err != nil {
			c.observer.ObserveFrameError(errorKind(err))
			if IsFrameError(err) && errCount < maxFrameErrors {
				errCount++
				c.logger.Warn("drop bad ppp frame", zap.Stringer("src", f.Source), zap.Error(err))
				continue
			}
			return nil, err
		}
		c.lastSource = pkt.Source
		return pkt, nil
	}
}

func (c *Conn) parsePacket(src Address, b []byte) (*Packet, error) {
	lf, _, err := DecodeLinkFrame(b)
	if err != nil {
		return nil, err
	}
	app, err := DecodeAppFrame(lf.Payload, c.logger)
	if err != nil {
		return nil, err
	}
	return &Packet{Source: src, App: app}, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrBadSync):
		return "sync"
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrOutOfRange):
		return "truncated"
	default:
		return "other"
	}
}
