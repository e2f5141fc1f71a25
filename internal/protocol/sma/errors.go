package sma

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated 数据不足（短帧/读越界）
	ErrTruncated = errors.New("sma: truncated")
	// ErrOutOfRange 游标越界
	ErrOutOfRange = errors.New("sma: out of range")
	// ErrChecksumMismatch 头部异或校验或 FCS 不一致
	ErrChecksumMismatch = errors.New("sma: checksum mismatch")
	// ErrBadSync 同步字节不是 0x7E
	ErrBadSync = errors.New("sma: bad sync byte")
	// ErrTimeout 等待匹配应答超时
	ErrTimeout = errors.New("sma: timeout")
	// ErrUnknownLRI 未知 LRI，仅在解码内部使用
	ErrUnknownLRI = errors.New("sma: unknown lri")
	// ErrUnsupportedType 不支持的记录数据类型（如 FLOAT）
	ErrUnsupportedType = errors.New("sma: unsupported data type")
)

// TransportError 底层链路错误（连接/读/写）
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sma transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFrameError 判断是否为单帧级错误（可继续接收循环）
func IsFrameError(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrBadSync)
}
