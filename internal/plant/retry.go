package plant

import (
	"context"
	"errors"
	"fmt"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// Retry 最多执行 attempts 次 fn，成功或遇到不可重试错误时返回。
// retryable 为 nil 时所有错误都重试。
func Retry(ctx context.Context, attempts int, retryable func(error) bool, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(i)
		if last == nil {
			return nil
		}
		if retryable != nil && !retryable(last) {
			return last
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, last)
}

// IsTimeout 等待超时或单帧错误，可以再次等待
func IsTimeout(err error) bool {
	return errors.Is(err, sma.ErrTimeout) || sma.IsFrameError(err)
}
