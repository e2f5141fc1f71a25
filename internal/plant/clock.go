package plant

import "time"

// Clock 时间来源（测试替换）
type Clock interface {
	Now() time.Time
	// TimezoneOffset 本地时区相对 UTC 的秒数
	TimezoneOffset(t time.Time) int
}

// SystemClock 系统时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) TimezoneOffset(t time.Time) int {
	_, off := t.Local().Zone()
	return off
}
