package sma

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DataType 记录数据类型（code 最高字节）
type DataType byte

const (
	TypeULong  DataType = 0x00
	TypeStatus DataType = 0x08
	TypeString DataType = 0x10
	TypeFloat  DataType = 0x20
	TypeSLong  DataType = 0x40
)

// 缺失值哨兵
const (
	nanU32 uint32 = 0xFFFFFFFF
	nanS32 uint32 = 0x80000000
	nanU64 uint64 = 0xFFFFFFFFFFFFFFFF
	nanS64 uint64 = 0x8000000000000000

	tagEnd    = 0xFFFFFE
	maxStatus = 8
)

// Kind 值类型
type Kind int

const (
	KindULong Kind = iota + 1
	KindSLong
	KindStatus
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindULong:
		return "ulong"
	case KindSLong:
		return "slong"
	case KindStatus:
		return "status"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value 记录值，按 Kind 取对应字段
type Value struct {
	Kind    Kind
	Missing bool
	U       uint64
	S       int64
	Tags    []int32
	Text    string
}

// Number 数值型记录的原始值；缺失或非数值返回 false
func (v Value) Number() (float64, bool) {
	if v.Missing {
		return 0, false
	}
	switch v.Kind {
	case KindULong:
		return float64(v.U), true
	case KindSLong:
		return float64(v.S), true
	default:
		return 0, false
	}
}

// Record 一条 LRI 记录
type Record struct {
	LRI       LRI
	Class     byte
	Type      DataType
	Timestamp time.Time
	Value     Value
}

// Key 快照中的存储键
type Key struct {
	LRI   LRI
	Class byte
}

// Key 单通道 LRI 的 class 归零
func (r Record) Key() Key {
	if r.LRI.MultiChannel() {
		return Key{LRI: r.LRI, Class: r.Class}
	}
	return Key{LRI: r.LRI}
}

func (k Key) String() string {
	if k.Class == 0 {
		return k.LRI.String()
	}
	return fmt.Sprintf("%s_%d", k.LRI, k.Class)
}

// Scaled 数值记录换算为工程单位
func (r Record) Scaled() (float64, bool) {
	raw, ok := r.Value.Number()
	if !ok {
		return 0, false
	}
	return Scale(r.LRI, raw), true
}

// DecodeRecords 解析数据应答中的全部记录
func DecodeRecords(f *AppFrame, logger *zap.Logger) ([]Record, error) {
	h, err := f.DataHeader()
	if err != nil {
		return nil, err
	}
	size := RecordSize(f.RecWords, h.First, h.Last)
	return DecodeRecordsSized(f.Records(), size, logger), nil
}

// DecodeRecordsSized 按固定记录长度扫描；size 不足一个记录头（8 字节）时由首条记录的 LRI 决定
func DecodeRecordsSized(data []byte, size int, logger *zap.Logger) []Record {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size > 0 && size < recordHeaderLen {
		logger.Debug("record size too small", zap.Int("size", size))
		size = 0
	}
	var out []Record
	for i := 0; i+recordHeaderLen <= len(data); {
		code := binary.LittleEndian.Uint32(data[i:])
		lri, known := LookupLRI(code)
		if size == 0 {
			if known {
				size = lri.DefaultSize()
			} else {
				size = minRecordSize
			}
			logger.Debug("record size fallback", zap.Int("size", size), zap.Stringer("lri", lri))
		}
		if size < recordHeaderLen {
			logger.Debug("record size below header", zap.Int("size", size))
			break
		}
		if i+size > len(data) {
			logger.Debug("trailing partial record", zap.Int("offset", i), zap.Int("left", len(data)-i))
			break
		}
		rec := data[i : i+size]
		i += size

		if !known {
			logger.Debug("skip unknown lri", zap.Uint32("code", code))
			continue
		}
		r := Record{
			LRI:       lri,
			Class:     byte(code),
			Type:      DataType(code >> 24),
			Timestamp: time.Unix(int64(binary.LittleEndian.Uint32(rec[4:])), 0),
		}
		v, err := decodeValue(lri, r.Type, rec)
		if err != nil {
			logger.Debug("skip record", zap.Stringer("lri", lri), zap.Error(err))
			continue
		}
		r.Value = v
		out = append(out, r)
	}
	return out
}

func decodeValue(lri LRI, dt DataType, rec []byte) (Value, error) {
	size := len(rec)
	if lri.IsCounter() {
		if size < 16 {
			return Value{}, fmt.Errorf("%w: counter record %d bytes", ErrTruncated, size)
		}
		u := binary.LittleEndian.Uint64(rec[8:])
		return Value{Kind: KindULong, U: u, Missing: u == nanU64 || u == nanS64}, nil
	}

	if (dt == TypeULong || dt == TypeSLong) && size < minRecordSize {
		return Value{}, fmt.Errorf("%w: scalar record %d bytes", ErrTruncated, size)
	}

	switch dt {
	case TypeULong:
		if size == 16 {
			u := binary.LittleEndian.Uint64(rec[8:])
			return Value{Kind: KindULong, U: u, Missing: u == nanU64}, nil
		}
		u := binary.LittleEndian.Uint32(rec[scalarOffset(size):])
		return Value{Kind: KindULong, U: uint64(u), Missing: u == nanU32}, nil
	case TypeSLong:
		if size == 16 {
			u := binary.LittleEndian.Uint64(rec[8:])
			return Value{Kind: KindSLong, S: int64(u), Missing: u == nanS64}, nil
		}
		u := binary.LittleEndian.Uint32(rec[scalarOffset(size):])
		return Value{Kind: KindSLong, S: int64(int32(u)), Missing: u == nanS32}, nil
	case TypeStatus:
		return Value{Kind: KindStatus, Tags: decodeStatus(rec)}, nil
	case TypeString:
		s, _ := NewReader(rec[8:]).String(size - 8)
		return Value{Kind: KindText, Text: s}, nil
	default:
		return Value{}, fmt.Errorf("%w: 0x%02X", ErrUnsupportedType, byte(dt))
	}
}

// scalarOffset 28 字节记录值在 16，40 字节记录值在 24，其余取 8
func scalarOffset(size int) int {
	switch {
	case size >= 40:
		return 24
	case size >= 28:
		return 16
	default:
		return 8
	}
}

func decodeStatus(rec []byte) []int32 {
	tags := []int32{}
	for n, off := 0, 8; n < maxStatus && off+4 <= len(rec); n, off = n+1, off+4 {
		attr := binary.LittleEndian.Uint32(rec[off:])
		tag := attr & 0x00FFFFFF
		if tag == tagEnd {
			break
		}
		if attr>>24 == 1 {
			tags = append(tags, int32(tag))
		}
	}
	return tags
}

// FormatVersion 软件版本：BCD 主/次版本 + 构建号 + 发布类型
func FormatVersion(v uint32) string {
	vType := byte(v)
	vBuild := byte(v >> 8)
	vMinor := byte(v >> 16)
	vMajor := byte(v >> 24)

	release := fmt.Sprintf("%d", vType)
	if vType <= 5 {
		release = string("NEABRS"[vType])
	}
	return fmt.Sprintf("%c%c.%c%c.%02d.%s",
		'0'+(vMajor>>4), '0'+(vMajor&0x0F),
		'0'+(vMinor>>4), '0'+(vMinor&0x0F),
		vBuild, release)
}
