package sma

import (
	"fmt"
	"strconv"
	"strings"
)

// Address 6 字节设备地址，按线上顺序（小端）保存
type Address [6]byte

var (
	// Broadcast 广播地址
	Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	// Zero 全零地址（未知本机地址）
	Zero = Address{}
	// VersionQueryAddress 查询 netID 时使用的伪地址
	VersionQueryAddress = Address{0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// ParseAddress 解析 "00:80:25:15:B6:06" 形式（高位在前）
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("invalid address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return a, fmt.Errorf("invalid address %q: %w", s, err)
		}
		a[5-i] = byte(v)
	}
	return a, nil
}

// AddressFrom 从 b[off:off+6] 复制地址
func AddressFrom(b []byte, off int) (Address, error) {
	var a Address
	if off < 0 || len(b) < off+6 {
		return a, ErrTruncated
	}
	copy(a[:], b[off:off+6])
	return a, nil
}

// String 逆序输出，冒号分隔
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// Matches 任一方为 0xFF 的字节视为通配
func (a Address) Matches(o Address) bool {
	for i := range a {
		if a[i] == 0xFF || o[i] == 0xFF {
			continue
		}
		if a[i] != o[i] {
			return false
		}
	}
	return true
}

// IsBroadcast 是否为广播地址
func (a Address) IsBroadcast() bool { return a == Broadcast }

// Serial 逻辑设备标识
type Serial struct {
	SUSyID uint16 `json:"susy_id"`
	Number uint32 `json:"serial"`
}

// IsZero 尚未完成识别的设备没有序列号
func (s Serial) IsZero() bool { return s == Serial{} }

func (s Serial) String() string {
	return fmt.Sprintf("%d:%d", s.SUSyID, s.Number)
}

// ParseSerial 解析 "susyid:serial" 或纯序列号
func ParseSerial(s string) (Serial, error) {
	var out Serial
	susy, num, found := strings.Cut(s, ":")
	if !found {
		num = susy
		susy = ""
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return out, fmt.Errorf("invalid serial %q: %w", s, err)
	}
	out.Number = uint32(n)
	if susy != "" {
		v, err := strconv.ParseUint(susy, 10, 16)
		if err != nil {
			return out, fmt.Errorf("invalid serial %q: %w", s, err)
		}
		out.SUSyID = uint16(v)
	}
	return out, nil
}
