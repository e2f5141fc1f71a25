package plant

import (
	"sort"
	"time"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// Snapshot 单台逆变器的最新记录与设备信息
type Snapshot struct {
	Serial  sma.Serial
	Address sma.Address
	NetID   byte

	Name            string
	DeviceType      string
	DeviceClass     string
	SoftwareVersion string
	Status          string
	StatusTag       int32
	GridRelay       string
	GridRelayTag    int32

	InverterTime time.Time // MeteringDyWhOut 时间戳
	WakeupTime   time.Time // NameplateLocation 时间戳
	SleepTime    time.Time // GridMsTotW 时间戳
	UpdatedAt    time.Time

	Values map[sma.Key]sma.Record
}

func newSnapshot(inv *Inverter) *Snapshot {
	return &Snapshot{
		Serial:  inv.Serial,
		Address: inv.Address,
		NetID:   inv.NetID,
		Values:  make(map[sma.Key]sma.Record),
	}
}

// Apply 合并一次查询得到的记录
func (s *Snapshot) Apply(records []sma.Record, tags *sma.TagMap, now time.Time) {
	if tags == nil {
		tags = sma.DefaultTagMap()
	}
	for _, r := range records {
		s.Values[r.Key()] = r

		switch r.LRI {
		case sma.NameplateLocation:
			s.Name = r.Value.Text
			s.WakeupTime = r.Timestamp
		case sma.NameplateMainModel:
			if len(r.Value.Tags) > 0 {
				s.DeviceClass = tags.Name(r.Value.Tags[0])
			}
		case sma.NameplateModel:
			if len(r.Value.Tags) > 0 {
				s.DeviceType = tags.Name(r.Value.Tags[0])
			}
		case sma.NameplatePkgRev:
			if r.Value.Kind == sma.KindULong && !r.Value.Missing {
				s.SoftwareVersion = sma.FormatVersion(uint32(r.Value.U))
			}
		case sma.OperationHealth:
			if len(r.Value.Tags) > 0 {
				s.StatusTag = r.Value.Tags[0]
				s.Status = tags.Name(s.StatusTag)
			}
		case sma.OperationGriSwStt:
			if len(r.Value.Tags) > 0 {
				s.GridRelayTag = r.Value.Tags[0]
				s.GridRelay = tags.Name(s.GridRelayTag)
			}
		case sma.MeteringDyWhOut:
			s.InverterTime = r.Timestamp
		case sma.GridMsTotW:
			s.SleepTime = r.Timestamp
		}
	}
	s.UpdatedAt = now
}

// Get 按 LRI（单通道）取记录
func (s *Snapshot) Get(l sma.LRI) (sma.Record, bool) {
	r, ok := s.Values[sma.Key{LRI: l}]
	return r, ok
}

// Scaled 取换算后的数值
func (s *Snapshot) Scaled(l sma.LRI) (float64, bool) {
	r, ok := s.Get(l)
	if !ok {
		return 0, false
	}
	return r.Scaled()
}

// Clone 深拷贝，供会话外部持有
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Values = make(map[sma.Key]sma.Record, len(s.Values))
	for k, v := range s.Values {
		c.Values[k] = v
	}
	return &c
}

// Reading 对外输出的一条测量
type Reading struct {
	Key       string    `json:"key"`
	LRI       uint32    `json:"lri"`
	Class     byte      `json:"class"`
	Unit      string    `json:"unit,omitempty"`
	Value     float64   `json:"value"`
	Missing   bool      `json:"missing,omitempty"`
	Text      string    `json:"text,omitempty"`
	Tags      []int32   `json:"tags,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Readings 按键排序输出全部测量
func (s *Snapshot) Readings() []Reading {
	out := make([]Reading, 0, len(s.Values))
	for k, r := range s.Values {
		rd := Reading{
			Key:       k.String(),
			LRI:       uint32(r.LRI),
			Class:     k.Class,
			Unit:      r.LRI.Unit().String(),
			Timestamp: r.Timestamp,
		}
		switch r.Value.Kind {
		case sma.KindText:
			rd.Text = r.Value.Text
		case sma.KindStatus:
			rd.Tags = r.Value.Tags
		default:
			v, ok := r.Scaled()
			rd.Value = v
			rd.Missing = !ok
		}
		out = append(out, rd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
