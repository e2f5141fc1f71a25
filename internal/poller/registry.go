package poller

import (
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// Totals 电站汇总；某项无法得出时为 nil
type Totals struct {
	EnergyTotal *float64 `json:"e_total_kwh,omitempty"`
	EnergyToday *float64 `json:"e_today_kwh,omitempty"`
	UacMax      *float64 `json:"uac_max_v,omitempty"`
	TotalPac    *float64 `json:"total_pac_w,omitempty"`
}

// ComputeTotals 累计量与总功率要求每台都有值，否则不输出；
// 最大相电压只要有一台有值即可。
func ComputeTotals(snaps []*plant.Snapshot) Totals {
	var t Totals
	if len(snaps) == 0 {
		return t
	}

	sumAll := func(l sma.LRI) *float64 {
		var sum float64
		for _, s := range snaps {
			v, ok := s.Scaled(l)
			if !ok {
				return nil
			}
			sum += v
		}
		return &sum
	}
	t.EnergyTotal = sumAll(sma.MeteringTotWhOut)
	t.EnergyToday = sumAll(sma.MeteringDyWhOut)
	t.TotalPac = sumAll(sma.GridMsTotW)

	for _, s := range snaps {
		for _, l := range []sma.LRI{sma.GridMsPhVphsA, sma.GridMsPhVphsB, sma.GridMsPhVphsC} {
			v, ok := s.Scaled(l)
			if !ok {
				continue
			}
			if t.UacMax == nil || v > *t.UacMax {
				u := v
				t.UacMax = &u
			}
		}
	}
	return t
}

// InverterStatus 单台逆变器的最新状态
type InverterStatus struct {
	Serial   sma.Serial
	Online   bool
	LastSeen time.Time
	// 最近一次在线时的快照
	Snapshot *plant.Snapshot
}

// PlantStatus 电站级状态
type PlantStatus struct {
	CycleID   string    `json:"cycle_id"`
	LastCycle time.Time `json:"last_cycle"`
	LastError string    `json:"last_error,omitempty"`
	Skipped   bool      `json:"skipped"`
	Totals    Totals    `json:"totals"`
	Known     int       `json:"known"`
	Online    int       `json:"online"`
}

// Registry 轮询结果的内存视图，供 HTTP 查询
type Registry struct {
	mu        sync.RWMutex
	plant     PlantStatus
	inverters map[sma.Serial]*InverterStatus
	cycles    int64
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{inverters: make(map[sma.Serial]*InverterStatus)}
}

// Update 写入一个周期的结果
func (r *Registry) Update(cycleID string, at time.Time, readings []InverterReading, totals Totals, cycleErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rd := range readings {
		st, ok := r.inverters[rd.Serial]
		if !ok {
			st = &InverterStatus{Serial: rd.Serial}
			r.inverters[rd.Serial] = st
		}
		st.Online = rd.Online
		if rd.Online {
			st.LastSeen = rd.At
			st.Snapshot = rd.Snapshot
		}
	}

	r.cycles++
	r.plant.CycleID = cycleID
	r.plant.LastCycle = at
	r.plant.Skipped = false
	r.plant.Totals = totals
	r.plant.LastError = ""
	if cycleErr != nil {
		r.plant.LastError = cycleErr.Error()
	}
	r.countLocked()
}

// MarkSkipped 夜间跳过的周期只刷新时间，不改变设备状态
func (r *Registry) MarkSkipped(cycleID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	r.plant.CycleID = cycleID
	r.plant.LastCycle = at
	r.plant.Skipped = true
}

func (r *Registry) countLocked() {
	r.plant.Known = len(r.inverters)
	r.plant.Online = 0
	for _, st := range r.inverters {
		if st.Online {
			r.plant.Online++
		}
	}
}

// Plant 电站状态
func (r *Registry) Plant() PlantStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plant
}

// Cycles 已完成（含跳过）的周期数
func (r *Registry) Cycles() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycles
}

// Inverters 按序列号排序
func (r *Registry) Inverters() []InverterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]InverterStatus, 0, len(r.inverters))
	for _, st := range r.inverters {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Serial.SUSyID != out[j].Serial.SUSyID {
			return out[i].Serial.SUSyID < out[j].Serial.SUSyID
		}
		return out[i].Serial.Number < out[j].Serial.Number
	})
	return out
}

// Inverter 按序列号查询
func (r *Registry) Inverter(serial sma.Serial) (InverterStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.inverters[serial]
	if !ok {
		return InverterStatus{}, false
	}
	return *st, true
}

// Known 曾经出现过的序列号
func (r *Registry) Known() []sma.Serial {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sma.Serial, 0, len(r.inverters))
	for s := range r.inverters {
		out = append(out, s)
	}
	return out
}
