package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
	"github.com/taoyao-code/sma-bridge/internal/storage"
	"github.com/taoyao-code/sma-bridge/internal/storage/models"
)

// ErrNotFound 逆变器未登记
var ErrNotFound = errors.New("gormrepo: inverter not found")

// Repository 基于 GORM 的 InverterRegistry 实现。
// isTx 标记事务上下文，嵌套 WithTx 不重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回使用给定 *gorm.DB 的实例
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ storage.InverterRegistry = (*Repository)(nil)

// WithTx 复用现有事务或开启新事务执行 fn
func (r *Repository) WithTx(ctx context.Context, fn func(storage.InverterRegistry) error) error {
	if r.isTx {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, isTx: true})
	})
}

// EnsureInverter 不存在则插入
func (r *Repository) EnsureInverter(ctx context.Context, serial sma.Serial) (*models.Inverter, error) {
	record := &models.Inverter{
		Serial:       serial.String(),
		SUSyID:       int32(serial.SUSyID),
		SerialNumber: int64(serial.Number),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "serial"}}, DoNothing: true}).
		Create(record).Error
	if err != nil {
		return nil, err
	}
	return r.GetInverter(ctx, serial)
}

// UpdateNameplate 空字段保持原值
func (r *Repository) UpdateNameplate(ctx context.Context, serial sma.Serial, np models.Nameplate) error {
	updates := map[string]interface{}{}
	for col, v := range map[string]string{
		"name":         np.Name,
		"device_type":  np.DeviceType,
		"device_class": np.DeviceClass,
		"sw_version":   np.SWVersion,
	} {
		if v != "" {
			updates[col] = v
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return r.update(ctx, serial, updates)
}

// MarkOnline 标记在线并刷新 last_seen_at
func (r *Repository) MarkOnline(ctx context.Context, serial sma.Serial, at time.Time) error {
	return r.update(ctx, serial, map[string]interface{}{"online": true, "last_seen_at": at})
}

// MarkOffline 只改在线标记，保留 last_seen_at
func (r *Repository) MarkOffline(ctx context.Context, serial sma.Serial) error {
	return r.update(ctx, serial, map[string]interface{}{"online": false})
}

func (r *Repository) update(ctx context.Context, serial sma.Serial, updates map[string]interface{}) error {
	updates["updated_at"] = gorm.Expr("NOW()")
	res := r.db.WithContext(ctx).
		Model(&models.Inverter{}).
		Where("serial = ?", serial.String()).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetInverter 按序列号查询
func (r *Repository) GetInverter(ctx context.Context, serial sma.Serial) (*models.Inverter, error) {
	var inv models.Inverter
	err := r.db.WithContext(ctx).Where("serial = ?", serial.String()).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInverters 按 susy_id、序列号排序
func (r *Repository) ListInverters(ctx context.Context) ([]models.Inverter, error) {
	var list []models.Inverter
	if err := r.db.WithContext(ctx).Order("susy_id, serial_number").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Publish 作为轮询下游：每台逆变器在一个事务中登记并更新状态
func (r *Repository) Publish(ctx context.Context, _ string, readings []poller.InverterReading) error {
	return r.WithTx(ctx, func(repo storage.InverterRegistry) error {
		for _, rd := range readings {
			if _, err := repo.EnsureInverter(ctx, rd.Serial); err != nil {
				return err
			}
			if !rd.Online {
				if err := repo.MarkOffline(ctx, rd.Serial); err != nil {
					return err
				}
				continue
			}
			if s := rd.Snapshot; s != nil {
				np := models.Nameplate{Name: s.Name, DeviceType: s.DeviceType, DeviceClass: s.DeviceClass, SWVersion: s.SoftwareVersion}
				if err := repo.UpdateNameplate(ctx, rd.Serial, np); err != nil {
					return err
				}
			}
			if err := repo.MarkOnline(ctx, rd.Serial, rd.At); err != nil {
				return err
			}
		}
		return nil
	})
}
