package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// Repository 测量数据持久化（pgx 原生 SQL）
type Repository struct {
	Pool *pgxpool.Pool
}

// Measurement 一条已存储的测量
type Measurement struct {
	Key       string
	LRI       uint32
	Class     byte
	Unit      string
	Value     *float64
	Text      string
	Timestamp time.Time
	CycleID   string
}

// UpsertInverter 登记逆变器并刷新在线状态，返回 id。
// snap 为 nil 时只更新在线标记。
func (r *Repository) UpsertInverter(ctx context.Context, serial sma.Serial, snap *plant.Snapshot, online bool, at time.Time) (int64, error) {
	const q = `INSERT INTO inverters (serial, susy_id, serial_number, name, device_type, device_class, sw_version, online, last_seen_at)
               VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
               ON CONFLICT (serial) DO UPDATE SET
                   name         = COALESCE(EXCLUDED.name, inverters.name),
                   device_type  = COALESCE(EXCLUDED.device_type, inverters.device_type),
                   device_class = COALESCE(EXCLUDED.device_class, inverters.device_class),
                   sw_version   = COALESCE(EXCLUDED.sw_version, inverters.sw_version),
                   online       = EXCLUDED.online,
                   last_seen_at = COALESCE(EXCLUDED.last_seen_at, inverters.last_seen_at),
                   updated_at   = NOW()
               RETURNING id`

	var name, devType, devClass, sw *string
	if snap != nil {
		name, devType, devClass, sw = nullable(snap.Name), nullable(snap.DeviceType), nullable(snap.DeviceClass), nullable(snap.SoftwareVersion)
	}
	var seen *time.Time
	if online {
		seen = &at
	}

	var id int64
	err := r.Pool.QueryRow(ctx, q, serial.String(), int32(serial.SUSyID), int64(serial.Number),
		name, devType, devClass, sw, online, seen).Scan(&id)
	return id, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertMeasurements 批量写入一台逆变器在一个周期内的全部读数
func (r *Repository) InsertMeasurements(ctx context.Context, inverterID int64, cycleID string, readings []plant.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	const q = `INSERT INTO measurements (inverter_id, cycle_id, key, lri, class, unit, value, text_value, ts)
               VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	batch := &pgx.Batch{}
	for _, rd := range readings {
		var value *float64
		if rd.Text == "" && rd.Tags == nil && !rd.Missing {
			v := rd.Value
			value = &v
		}
		text := rd.Text
		if len(rd.Tags) > 0 {
			text = fmt.Sprint(rd.Tags)
		}
		batch.Queue(q, inverterID, cycleID, rd.Key, int64(rd.LRI), int16(rd.Class), nullable(rd.Unit), value, nullable(text), rd.Timestamp)
	}
	return r.Pool.SendBatch(ctx, batch).Close()
}

// LatestMeasurements 每个 key 的最新一条
func (r *Repository) LatestMeasurements(ctx context.Context, serial sma.Serial) ([]Measurement, error) {
	const q = `SELECT DISTINCT ON (m.key) m.key, m.lri, m.class, COALESCE(m.unit, ''), m.value, COALESCE(m.text_value, ''), m.ts, m.cycle_id
               FROM measurements m JOIN inverters i ON i.id = m.inverter_id
               WHERE i.serial = $1
               ORDER BY m.key, m.ts DESC, m.id DESC`
	rows, err := r.Pool.Query(ctx, q, serial.String())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Measurement, error) {
		var m Measurement
		var lri int64
		var class int16
		err := row.Scan(&m.Key, &lri, &class, &m.Unit, &m.Value, &m.Text, &m.Timestamp, &m.CycleID)
		m.LRI = uint32(lri)
		m.Class = byte(class)
		return m, err
	})
}

// Publish 作为轮询下游：在线设备写入读数，离线设备只更新状态
func (r *Repository) Publish(ctx context.Context, cycleID string, readings []poller.InverterReading) error {
	for _, rd := range readings {
		id, err := r.UpsertInverter(ctx, rd.Serial, rd.Snapshot, rd.Online, rd.At)
		if err != nil {
			return fmt.Errorf("upsert inverter %s: %w", rd.Serial, err)
		}
		if !rd.Online || rd.Snapshot == nil {
			continue
		}
		if err := r.InsertMeasurements(ctx, id, cycleID, rd.Snapshot.Readings()); err != nil {
			return fmt.Errorf("insert measurements %s: %w", rd.Serial, err)
		}
	}
	return nil
}
