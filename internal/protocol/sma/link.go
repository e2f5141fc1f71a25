package sma

import (
	"bytes"
	"fmt"
)

// LinkFrame 常量
const (
	FlagByte   byte = 0x7E // 同步标志
	EscapeByte byte = 0x7D // 转义字节
	EscapeXor  byte = 0x20

	LinkAddress  byte   = 0xFF
	LinkControl  byte   = 0x03
	LinkProtocol uint16 = 0x6065

	linkHeaderLen = 5 // flag + addr + ctrl + proto(2)
)

// PPPHeader 应用层帧在 TransportFrame 中的固定前缀
var PPPHeader = []byte{FlagByte, LinkAddress, LinkControl, 0x60, 0x65}

// LinkFrame 类 HDLC 链路帧
type LinkFrame struct {
	Address  byte
	Control  byte
	Protocol uint16
	Payload  []byte
}

// NewLinkFrame 使用默认地址/控制/协议号
func NewLinkFrame(payload []byte) *LinkFrame {
	return &LinkFrame{
		Address:  LinkAddress,
		Control:  LinkControl,
		Protocol: LinkProtocol,
		Payload:  payload,
	}
}

func needsEscape(b byte) bool {
	switch b {
	case FlagByte, EscapeByte, 0x11, 0x12, 0x13:
		return true
	}
	return false
}

func appendEscaped(dst []byte, src ...byte) []byte {
	for _, b := range src {
		if needsEscape(b) {
			dst = append(dst, EscapeByte, b^EscapeXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// Encode 编码为线上字节（含首尾 0x7E）
func (f *LinkFrame) Encode() []byte {
	head := []byte{f.Address, f.Control, byte(f.Protocol >> 8), byte(f.Protocol)}

	acc := FCSInit()
	acc = FCSUpdate(acc, head)
	acc = FCSUpdate(acc, f.Payload)
	fcs := FCSFinal(acc)

	out := make([]byte, 0, len(f.Payload)*2+10)
	out = append(out, FlagByte, f.Address)
	// 地址字节不转义
	out = appendEscaped(out, head[1:]...)
	out = appendEscaped(out, f.Payload...)
	out = appendEscaped(out, byte(fcs), byte(fcs>>8))
	out = append(out, FlagByte)
	return out
}

// DecodeLinkFrame 解码线上字节，返回帧与消耗的字节数
func DecodeLinkFrame(b []byte) (*LinkFrame, int, error) {
	if len(b) < linkHeaderLen {
		return nil, 0, ErrTruncated
	}
	if b[0] != FlagByte {
		return nil, 0, ErrBadSync
	}
	f := &LinkFrame{
		Address:  b[1],
		Control:  b[2],
		Protocol: uint16(b[3])<<8 | uint16(b[4]),
	}

	body := make([]byte, 0, len(b))
	i := linkHeaderLen
	closed := false
	for i < len(b) {
		c := b[i]
		i++
		if c == FlagByte {
			closed = true
			break
		}
		if c == EscapeByte {
			if i >= len(b) {
				return nil, 0, ErrTruncated
			}
			c = b[i] ^ EscapeXor
			i++
		}
		body = append(body, c)
	}
	if !closed || len(body) < 2 {
		return nil, 0, ErrTruncated
	}

	f.Payload = body[:len(body)-2]
	got := uint16(body[len(body)-2]) | uint16(body[len(body)-1])<<8

	acc := FCSInit()
	acc = FCSUpdate(acc, b[1:linkHeaderLen])
	acc = FCSUpdate(acc, f.Payload)
	if want := FCSFinal(acc); want != got {
		return nil, 0, fmt.Errorf("%w: fcs got=%04X want=%04X", ErrChecksumMismatch, got, want)
	}
	return f, i, nil
}

// HasPPPHeader 判断数据是否以应用层帧前缀开头
func HasPPPHeader(b []byte) bool {
	return bytes.HasPrefix(b, PPPHeader)
}
