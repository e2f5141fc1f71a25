package plant

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady 未完成握手
	ErrNotReady = errors.New("plant: session not initialized")
	// ErrNoInverters 拓扑/识别阶段没有得到任何逆变器
	ErrNoInverters = errors.New("plant: no inverter identified")
	// ErrLogonFailed 没有任何逆变器确认登录
	ErrLogonFailed = errors.New("plant: logon not acknowledged")
	// ErrRetryExhausted 重试次数用尽
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// ProtocolError 配置类错误，需要人工处理（如单逆变器系统误开多机组网）
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("plant protocol error: %s", e.Msg)
}
