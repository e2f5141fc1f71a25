package poller

import (
	"context"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// InverterReading 一个轮询周期内单台逆变器的结果
type InverterReading struct {
	Serial sma.Serial
	Online bool
	// 离线时为 nil
	Snapshot *plant.Snapshot
	At       time.Time
}

// Sink 周期结果的下游（数据库、缓存、时序库）
type Sink interface {
	Publish(ctx context.Context, cycleID string, readings []InverterReading) error
}

// SinkFunc 函数适配
type SinkFunc func(ctx context.Context, cycleID string, readings []InverterReading) error

func (f SinkFunc) Publish(ctx context.Context, cycleID string, readings []InverterReading) error {
	return f(ctx, cycleID, readings)
}

type namedSink struct {
	name string
	sink Sink
}
