package thirdparty

import (
	"context"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// EventCycle 每个完成的轮询周期推送一次
const EventCycle = "plant.cycle"

// InverterEvent 单台逆变器摘要
type InverterEvent struct {
	Serial     string   `json:"serial"`
	Online     bool     `json:"online"`
	Name       string   `json:"name,omitempty"`
	DeviceType string   `json:"deviceType,omitempty"`
	Status     string   `json:"status,omitempty"`
	PacW       *float64 `json:"pacW,omitempty"`
	ETodayKWh  *float64 `json:"eTodayKWh,omitempty"`
	ETotalKWh  *float64 `json:"eTotalKWh,omitempty"`
}

// CycleEvent 推送体
type CycleEvent struct {
	Event     string          `json:"event"`
	CycleID   string          `json:"cycleId"`
	Timestamp int64           `json:"timestamp"`
	Totals    poller.Totals   `json:"totals"`
	Inverters []InverterEvent `json:"inverters"`
}

// Sink 轮询下游：把周期结果推送到外部 webhook
type Sink struct {
	Pusher *Pusher
	URL    string
}

// BuildCycleEvent 汇总只按在线设备计算
func BuildCycleEvent(cycleID string, at time.Time, readings []poller.InverterReading) CycleEvent {
	ev := CycleEvent{Event: EventCycle, CycleID: cycleID, Timestamp: at.Unix(), Inverters: make([]InverterEvent, 0, len(readings))}
	var online []*plant.Snapshot
	for _, rd := range readings {
		ie := InverterEvent{Serial: rd.Serial.String(), Online: rd.Online}
		if rd.Online && rd.Snapshot != nil {
			s := rd.Snapshot
			online = append(online, s)
			ie.Name, ie.DeviceType, ie.Status = s.Name, s.DeviceType, s.Status
			ie.PacW = scaled(s, sma.GridMsTotW)
			ie.ETodayKWh = scaled(s, sma.MeteringDyWhOut)
			ie.ETotalKWh = scaled(s, sma.MeteringTotWhOut)
		}
		ev.Inverters = append(ev.Inverters, ie)
	}
	ev.Totals = poller.ComputeTotals(online)
	return ev
}

func scaled(s *plant.Snapshot, l sma.LRI) *float64 {
	if v, ok := s.Scaled(l); ok {
		return &v
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, cycleID string, readings []poller.InverterReading) error {
	at := time.Now()
	if len(readings) > 0 {
		at = readings[0].At
	}
	_, err := s.Pusher.SendJSON(ctx, s.URL, BuildCycleEvent(cycleID, at, readings))
	return err
}
