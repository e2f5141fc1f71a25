package models

import (
	"time"
)

// 与 db/migrations 保持一致；不使用 gorm.Model，避免隐式 DeletedAt

// Inverter 映射 inverters 表
type Inverter struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// "susyid:serial"
	Serial       string `gorm:"column:serial;type:text;not null;uniqueIndex"`
	SUSyID       int32  `gorm:"column:susy_id;not null"`
	SerialNumber int64  `gorm:"column:serial_number;not null"`

	Name        *string `gorm:"column:name;type:text"`
	DeviceType  *string `gorm:"column:device_type;type:text"`
	DeviceClass *string `gorm:"column:device_class;type:text"`
	SWVersion   *string `gorm:"column:sw_version;type:text"`

	Online     bool       `gorm:"column:online;not null;default:false"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Inverter) TableName() string { return "inverters" }

// Nameplate 铭牌信息
type Nameplate struct {
	Name        string
	DeviceType  string
	DeviceClass string
	SWVersion   string
}
