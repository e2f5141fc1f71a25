package sma

import (
	"fmt"

	"go.uber.org/zap"
)

// 应用层帧常量
const (
	AppHeaderLen = 24

	AnySUSyID uint16 = 0xFFFF
	AnySerial uint32 = 0xFFFFFFFF

	// AppSUSyID 本端（主控）SUSyID
	AppSUSyID uint16 = 125

	ClassDevice byte = 0xA0 // 目标设备类
	ReplyFlag        = 0x8000
	packetIDMask     = 0x7FFF

	// DataBodyOffset 数据应答记录起始偏移
	DataBodyOffset = 36
)

// AppFrame 应用层帧（SMANet 内层）
type AppFrame struct {
	RecWords    byte
	DstClass    byte
	DstSUSyID   uint16
	DstSerial   uint32
	Fill1       byte
	SrcClass    byte
	SrcSUSyID   uint16
	SrcSerial   uint32
	Fill2       byte
	Ctrl        byte
	Status      uint16
	PacketCount uint16
	PacketIDRaw uint16
	Body        []byte
}

// PacketID 去掉应答位
func (f *AppFrame) PacketID() uint16 { return f.PacketIDRaw & packetIDMask }

// IsReply 最高位表示应答
func (f *AppFrame) IsReply() bool { return f.PacketIDRaw&ReplyFlag != 0 }

// Source 应答方序列号
func (f *AppFrame) Source() Serial {
	return Serial{SUSyID: f.SrcSUSyID, Number: f.SrcSerial}
}

// Encode 编码；RecWords 由长度计算，PacketID 最高位强制置 1
func (f *AppFrame) Encode() []byte {
	w := NewWriter(AppHeaderLen + len(f.Body))
	w.Uint8(0).
		Uint8(f.DstClass).
		Uint16(f.DstSUSyID).
		Uint32(f.DstSerial).
		Uint8(0).
		Uint8(f.SrcClass).
		Uint16(f.SrcSUSyID).
		Uint32(f.SrcSerial).
		Uint8(0).
		Uint8(f.Ctrl).
		Uint16(f.Status).
		Uint16(f.PacketCount).
		Uint16(f.PacketIDRaw | ReplyFlag).
		Write(f.Body)
	f.RecWords = byte(w.Len() / 4)
	_ = w.PutUint8At(0, f.RecWords)
	return w.Bytes()
}

// DecodeAppFrame 解码，非零填充字节仅记录日志
func DecodeAppFrame(b []byte, logger *zap.Logger) (*AppFrame, error) {
	if len(b) < AppHeaderLen {
		return nil, fmt.Errorf("%w: app frame %d bytes", ErrTruncated, len(b))
	}
	r := NewReader(b)
	f := &AppFrame{}
	f.RecWords, _ = r.Uint8()
	f.DstClass, _ = r.Uint8()
	f.DstSUSyID, _ = r.Uint16()
	f.DstSerial, _ = r.Uint32()
	f.Fill1, _ = r.Uint8()
	f.SrcClass, _ = r.Uint8()
	f.SrcSUSyID, _ = r.Uint16()
	f.SrcSerial, _ = r.Uint32()
	f.Fill2, _ = r.Uint8()
	f.Ctrl, _ = r.Uint8()
	f.Status, _ = r.Uint16()
	f.PacketCount, _ = r.Uint16()
	f.PacketIDRaw, _ = r.Uint16()
	f.Body, _ = r.Bytes(r.Remaining())

	if (f.Fill1 != 0 || f.Fill2 != 0) && logger != nil {
		logger.Warn("app frame fill byte not zero",
			zap.Uint8("fill1", f.Fill1),
			zap.Uint8("fill2", f.Fill2),
			zap.Stringer("src", f.Source()))
	}
	return f, nil
}

// DataHeader 数据应答中 [24..36) 的命令回显与记录索引
type DataHeader struct {
	Command uint32
	First   uint32
	Last    uint32
}

// DataHeader 读取数据应答头；payload 为整帧应用层字节
func (f *AppFrame) DataHeader() (DataHeader, error) {
	var h DataHeader
	r := NewReader(f.Body)
	var err error
	if h.Command, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.First, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.Last, err = r.Uint32(); err != nil {
		return h, err
	}
	return h, nil
}

// RecordSize 4*(recWords-9)/(last-first+1)，除数非正时返回 0
func RecordSize(recWords byte, first, last uint32) int {
	div := int64(last) - int64(first) + 1
	if div <= 0 {
		return 0
	}
	n := 4 * (int64(recWords) - 9) / div
	if n < 0 {
		return 0
	}
	return int(n)
}

// Records 应用层帧中的记录区
func (f *AppFrame) Records() []byte {
	off := DataBodyOffset - AppHeaderLen
	if len(f.Body) <= off {
		return nil
	}
	return f.Body[off:]
}
