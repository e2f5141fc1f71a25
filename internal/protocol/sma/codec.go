package sma

import (
	"bytes"
	"encoding/binary"
)

// Reader 小端字节读取器（带游标，不修改底层数据）
type Reader struct {
	buf []byte
	pos int
}

// NewReader 创建读取器
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len 底层数据长度
func (r *Reader) Len() int { return len(r.buf) }

// Pos 当前游标
func (r *Reader) Pos() int { return r.pos }

// Remaining 剩余可读字节数
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Seek 移动游标，pos 必须落在 [0, len) 内
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos >= len(r.buf) {
		return ErrOutOfRange
	}
	r.pos = pos
	return nil
}

// Skip 跳过 n 字节
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return ErrTruncated
	}
	r.pos += n
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Bytes 读取 n 字节（返回副本）
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// String 读取定长字段，截断到第一个 NUL
func (r *Reader) String(n int) (string, error) {
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// Writer 小端字节写入器
type Writer struct {
	buf []byte
}

// NewWriter 创建写入器，size 为预分配容量
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) Uint64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Writer) Write(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *Writer) String(s string) *Writer {
	w.buf = append(w.buf, s...)
	return w
}

// PutUint8At 回填已写入位置的字节
func (w *Writer) PutUint8At(pos int, v uint8) error {
	if pos < 0 || pos >= len(w.buf) {
		return ErrOutOfRange
	}
	w.buf[pos] = v
	return nil
}

func (w *Writer) Len() int { return len(w.buf) }

// Bytes 返回已写入的数据
func (w *Writer) Bytes() []byte { return w.buf }
