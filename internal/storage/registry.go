package storage

import (
	"context"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
	"github.com/taoyao-code/sma-bridge/internal/storage/models"
)

// InverterRegistry 逆变器登记信息的存储抽象，与具体数据库无关
type InverterRegistry interface {
	// WithTx 在单个事务中执行 fn，嵌套调用复用当前事务
	WithTx(ctx context.Context, fn func(repo InverterRegistry) error) error

	// EnsureInverter 不存在则创建，返回记录
	EnsureInverter(ctx context.Context, serial sma.Serial) (*models.Inverter, error)
	// UpdateNameplate 写入设备铭牌信息，空字符串不覆盖
	UpdateNameplate(ctx context.Context, serial sma.Serial, np models.Nameplate) error
	MarkOnline(ctx context.Context, serial sma.Serial, at time.Time) error
	MarkOffline(ctx context.Context, serial sma.Serial) error
	GetInverter(ctx context.Context, serial sma.Serial) (*models.Inverter, error)
	ListInverters(ctx context.Context) ([]models.Inverter, error)
}
