package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// StatusProvider 电站状态来源，由 poller.Registry 实现
type StatusProvider interface {
	Plant() poller.PlantStatus
	Inverters() []poller.InverterStatus
	Inverter(serial sma.Serial) (poller.InverterStatus, bool)
}

type inverterSummary struct {
	Serial          string    `json:"serial"`
	Online          bool      `json:"online"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
	Name            string    `json:"name,omitempty"`
	DeviceType      string    `json:"device_type,omitempty"`
	SoftwareVersion string    `json:"software_version,omitempty"`
	Status          string    `json:"status,omitempty"`
	PacW            *float64  `json:"pac_w,omitempty"`
	ETodayKWh       *float64  `json:"e_today_kwh,omitempty"`
}

type inverterDetail struct {
	inverterSummary
	DeviceClass  string          `json:"device_class,omitempty"`
	GridRelay    string          `json:"grid_relay,omitempty"`
	InverterTime time.Time       `json:"inverter_time,omitempty"`
	WakeupTime   time.Time       `json:"wakeup_time,omitempty"`
	SleepTime    time.Time       `json:"sleep_time,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
	Readings     []plant.Reading `json:"readings"`
}

func scaled(s *plant.Snapshot, l sma.LRI) *float64 {
	v, ok := s.Scaled(l)
	if !ok {
		return nil
	}
	return &v
}

func summarize(st poller.InverterStatus) inverterSummary {
	out := inverterSummary{
		Serial:   st.Serial.String(),
		Online:   st.Online,
		LastSeen: st.LastSeen,
	}
	if s := st.Snapshot; s != nil {
		out.Name = s.Name
		out.DeviceType = s.DeviceType
		out.SoftwareVersion = s.SoftwareVersion
		out.Status = s.Status
		out.PacW = scaled(s, sma.GridMsTotW)
		out.ETodayKWh = scaled(s, sma.MeteringDyWhOut)
	}
	return out
}

// RegisterPlantRoutes 只读的电站/逆变器查询接口；mw 作用于整个 /api/v1 组（认证等）
func RegisterPlantRoutes(r *gin.Engine, p StatusProvider, mw ...gin.HandlerFunc) {
	g := r.Group("/api/v1", mw...)

	g.GET("/plant", func(c *gin.Context) {
		list := p.Inverters()
		invs := make([]inverterSummary, 0, len(list))
		for _, st := range list {
			invs = append(invs, summarize(st))
		}
		c.JSON(http.StatusOK, gin.H{
			"plant":     p.Plant(),
			"inverters": invs,
		})
	})

	g.GET("/inverters/:serial", func(c *gin.Context) {
		serial, err := sma.ParseSerial(c.Param("serial"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial"})
			return
		}
		st, ok := p.Inverter(serial)
		if !ok {
			// 只给了序列号时按序列号匹配
			st, ok = findByNumber(p.Inverters(), serial)
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "inverter not found"})
			return
		}
		out := inverterDetail{inverterSummary: summarize(st), Readings: []plant.Reading{}}
		if s := st.Snapshot; s != nil {
			out.DeviceClass = s.DeviceClass
			out.GridRelay = s.GridRelay
			out.InverterTime = s.InverterTime
			out.WakeupTime = s.WakeupTime
			out.SleepTime = s.SleepTime
			out.UpdatedAt = s.UpdatedAt
			out.Readings = s.Readings()
		}
		c.JSON(http.StatusOK, out)
	})
}

func findByNumber(list []poller.InverterStatus, serial sma.Serial) (poller.InverterStatus, bool) {
	if serial.SUSyID != 0 {
		return poller.InverterStatus{}, false
	}
	for _, st := range list {
		if st.Serial.Number == serial.Number {
			return st, true
		}
	}
	return poller.InverterStatus{}, false
}
