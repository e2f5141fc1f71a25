package sma

import (
	"encoding/binary"
	"fmt"
)

// TransportFrame 命令码
const (
	CmdPPP          uint16 = 0x0001 // 承载应用层帧
	CmdHello        uint16 = 0x0002 // netID 应答 / 根设备查询
	CmdGetVar       uint16 = 0x0003
	CmdVariable     uint16 = 0x0004
	CmdNodeList     uint16 = 0x0005 // 拓扑
	CmdNetworkReady uint16 = 0x0006
	CmdPPPMore      uint16 = 0x0008 // 后续还有分片
	CmdRootInfo     uint16 = 0x000A
	CmdLinkStatus   uint16 = 0x000C
	CmdMeshUpdate   uint16 = 0x1001
	CmdVersion      uint16 = 0x0201

	// CmdAny 等待任意命令
	CmdAny uint16 = 0x00FF
)

// TransportHeaderLen 固定头长度
const TransportHeaderLen = 18

// MaxTransportFrame 长度字段上限
const MaxTransportFrame = 0xFFFF

// TransportFrame 物理链路外层信封
type TransportFrame struct {
	Source      Address
	Destination Address
	Command     uint16
	Payload     []byte
}

// HeaderChecksum 同步字节与长度两字节的异或
func HeaderChecksum(totalLen uint16) byte {
	return FlagByte ^ byte(totalLen) ^ byte(totalLen>>8)
}

// Encode 编码（负载不做转义）
func (f *TransportFrame) Encode() ([]byte, error) {
	total := TransportHeaderLen + len(f.Payload)
	if total > MaxTransportFrame {
		return nil, fmt.Errorf("transport frame too long: %d", total)
	}
	out := make([]byte, 0, total)
	out = append(out, FlagByte)
	out = binary.LittleEndian.AppendUint16(out, uint16(total))
	out = append(out, HeaderChecksum(uint16(total)))
	out = append(out, f.Source[:]...)
	out = append(out, f.Destination[:]...)
	out = binary.LittleEndian.AppendUint16(out, f.Command)
	out = append(out, f.Payload...)
	return out, nil
}

// TransportHeader 已校验的头部
type TransportHeader struct {
	Length      int
	Source      Address
	Destination Address
	Command     uint16
}

// PayloadLen 负载长度
func (h TransportHeader) PayloadLen() int { return h.Length - TransportHeaderLen }

// ParseTransportHeader 解析并校验 18 字节头部
func ParseTransportHeader(b []byte) (TransportHeader, error) {
	var h TransportHeader
	if len(b) < TransportHeaderLen {
		return h, ErrTruncated
	}
	total := binary.LittleEndian.Uint16(b[1:3])
	if b[3] != HeaderChecksum(total) {
		return h, fmt.Errorf("%w: header xor got=%02X want=%02X", ErrChecksumMismatch, b[3], HeaderChecksum(total))
	}
	if b[0] != FlagByte {
		return h, ErrBadSync
	}
	if int(total) < TransportHeaderLen {
		return h, fmt.Errorf("%w: length %d", ErrTruncated, total)
	}
	h.Length = int(total)
	copy(h.Source[:], b[4:10])
	copy(h.Destination[:], b[10:16])
	h.Command = binary.LittleEndian.Uint16(b[16:18])
	return h, nil
}

// DecodeTransportFrame 从完整字节解码
func DecodeTransportFrame(b []byte) (*TransportFrame, error) {
	h, err := ParseTransportHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) < h.Length {
		return nil, ErrTruncated
	}
	payload := make([]byte, h.PayloadLen())
	copy(payload, b[TransportHeaderLen:h.Length])
	return &TransportFrame{
		Source:      h.Source,
		Destination: h.Destination,
		Command:     h.Command,
		Payload:     payload,
	}, nil
}
