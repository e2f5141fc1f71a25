package sma

import "fmt"

// LRI 逻辑资源标识（code 的低 3 字节，低字节为 class）
type LRI uint32

// 已知 LRI
const (
	OperationHealth       LRI = 0x214800 // 设备状态
	CoolsysTmpNom         LRI = 0x237700 // 机内温度
	DcMsWatt              LRI = 0x251E00 // 直流功率（按 class 区分组串）
	MeteringTotWhOut      LRI = 0x260100 // 总发电量
	MeteringDyWhOut       LRI = 0x262200 // 日发电量
	GridMsTotW            LRI = 0x263F00 // 交流总功率
	BatChaStt             LRI = 0x295A00 // 电池 SOC
	OperationHealthSttOk  LRI = 0x411E00 // 额定功率（pmax1）
	OperationHealthSttWrn LRI = 0x411F00
	OperationHealthSttAlm LRI = 0x412000
	OperationGriSwStt     LRI = 0x416400 // 并网继电器
	DcMsVol               LRI = 0x451F00
	DcMsAmp               LRI = 0x452100
	MeteringTotOpTms      LRI = 0x462E00 // 运行时间
	MeteringTotFeedTms    LRI = 0x462F00 // 并网时间
	MeteringGridMsTotWOut LRI = 0x463600
	MeteringGridMsTotWIn  LRI = 0x463700
	GridMsWphsA           LRI = 0x464000
	GridMsWphsB           LRI = 0x464100
	GridMsWphsC           LRI = 0x464200
	GridMsPhVphsA         LRI = 0x464800
	GridMsPhVphsB         LRI = 0x464900
	GridMsPhVphsC         LRI = 0x464A00
	GridMsAphsA1          LRI = 0x465000
	GridMsAphsB1          LRI = 0x465100
	GridMsAphsC1          LRI = 0x465200
	GridMsAphsA           LRI = 0x465300
	GridMsAphsB           LRI = 0x465400
	GridMsAphsC           LRI = 0x465500
	GridMsHz              LRI = 0x465700
	BatDiagCapacThrpCnt   LRI = 0x491E00
	BatDiagTotAhIn        LRI = 0x492600
	BatDiagTotAhOut       LRI = 0x492700
	BatTmpVal             LRI = 0x495B00
	BatVol                LRI = 0x495C00
	BatAmp                LRI = 0x495D00
	NameplateLocation     LRI = 0x821E00 // 设备名
	NameplateMainModel    LRI = 0x821F00 // 设备类
	NameplateModel        LRI = 0x822000 // 型号
	NameplatePkgRev       LRI = 0x823400 // 软件版本
	InverterWLim          LRI = 0x832A00
)

// Unit 工程单位
type Unit int

const (
	UnitNone Unit = iota
	UnitWatt
	UnitVolt
	UnitAmpere
	UnitHertz
	UnitCelsius
	UnitDeciCelsius
	UnitKWh
	UnitHour
	UnitPercent
	UnitAh
)

func (u Unit) String() string {
	switch u {
	case UnitWatt:
		return "W"
	case UnitVolt:
		return "V"
	case UnitAmpere:
		return "A"
	case UnitHertz:
		return "Hz"
	case UnitCelsius, UnitDeciCelsius:
		return "°C"
	case UnitKWh:
		return "kWh"
	case UnitHour:
		return "h"
	case UnitPercent:
		return "%"
	case UnitAh:
		return "Ah"
	default:
		return ""
	}
}

type lriDef struct {
	name  string
	unit  Unit
	size  int  // 退化情况下的默认记录长度
	qword bool // 64 位计数器，类型字节不可靠
	multi bool // 按 class 区分通道
}

var lriTable = map[LRI]lriDef{
	OperationHealth:       {name: "OperationHealth", size: 40},
	CoolsysTmpNom:         {name: "CoolsysTmpNom", unit: UnitCelsius, size: 28},
	DcMsWatt:              {name: "DcMsWatt", unit: UnitWatt, size: 28, multi: true},
	MeteringTotWhOut:      {name: "MeteringTotWhOut", unit: UnitKWh, size: 16, qword: true},
	MeteringDyWhOut:       {name: "MeteringDyWhOut", unit: UnitKWh, size: 16, qword: true},
	GridMsTotW:            {name: "GridMsTotW", unit: UnitWatt, size: 28},
	BatChaStt:             {name: "BatChaStt", unit: UnitPercent, size: 28},
	OperationHealthSttOk:  {name: "OperationHealthSttOk", unit: UnitWatt, size: 28},
	OperationHealthSttWrn: {name: "OperationHealthSttWrn", unit: UnitWatt, size: 28},
	OperationHealthSttAlm: {name: "OperationHealthSttAlm", unit: UnitWatt, size: 28},
	OperationGriSwStt:     {name: "OperationGriSwStt", size: 40},
	DcMsVol:               {name: "DcMsVol", unit: UnitVolt, size: 28, multi: true},
	DcMsAmp:               {name: "DcMsAmp", unit: UnitAmpere, size: 28, multi: true},
	MeteringTotOpTms:      {name: "MeteringTotOpTms", unit: UnitHour, size: 16, qword: true},
	MeteringTotFeedTms:    {name: "MeteringTotFeedTms", unit: UnitHour, size: 16, qword: true},
	MeteringGridMsTotWOut: {name: "MeteringGridMsTotWOut", unit: UnitWatt, size: 28},
	MeteringGridMsTotWIn:  {name: "MeteringGridMsTotWIn", unit: UnitWatt, size: 28},
	GridMsWphsA:           {name: "GridMsWphsA", unit: UnitWatt, size: 28},
	GridMsWphsB:           {name: "GridMsWphsB", unit: UnitWatt, size: 28},
	GridMsWphsC:           {name: "GridMsWphsC", unit: UnitWatt, size: 28},
	GridMsPhVphsA:         {name: "GridMsPhVphsA", unit: UnitVolt, size: 28},
	GridMsPhVphsB:         {name: "GridMsPhVphsB", unit: UnitVolt, size: 28},
	GridMsPhVphsC:         {name: "GridMsPhVphsC", unit: UnitVolt, size: 28},
	GridMsAphsA1:          {name: "GridMsAphsA_1", unit: UnitAmpere, size: 28},
	GridMsAphsB1:          {name: "GridMsAphsB_1", unit: UnitAmpere, size: 28},
	GridMsAphsC1:          {name: "GridMsAphsC_1", unit: UnitAmpere, size: 28},
	GridMsAphsA:           {name: "GridMsAphsA", unit: UnitAmpere, size: 28},
	GridMsAphsB:           {name: "GridMsAphsB", unit: UnitAmpere, size: 28},
	GridMsAphsC:           {name: "GridMsAphsC", unit: UnitAmpere, size: 28},
	GridMsHz:              {name: "GridMsHz", unit: UnitHertz, size: 28},
	BatDiagCapacThrpCnt:   {name: "BatDiagCapacThrpCnt", size: 28},
	BatDiagTotAhIn:        {name: "BatDiagTotAhIn", unit: UnitAh, size: 28},
	BatDiagTotAhOut:       {name: "BatDiagTotAhOut", unit: UnitAh, size: 28},
	BatTmpVal:             {name: "BatTmpVal", unit: UnitDeciCelsius, size: 28},
	BatVol:                {name: "BatVol", unit: UnitVolt, size: 28},
	BatAmp:                {name: "BatAmp", unit: UnitAmpere, size: 28},
	NameplateLocation:     {name: "NameplateLocation", size: 40},
	NameplateMainModel:    {name: "NameplateMainModel", size: 40},
	NameplateModel:        {name: "NameplateModel", size: 40},
	NameplatePkgRev:       {name: "NameplatePkgRev", size: 40},
	InverterWLim:          {name: "InverterWLim", unit: UnitWatt, size: 28},
}

// minRecordSize 未知 LRI 时的最小记录长度
const minRecordSize = 12

// recordHeaderLen 记录头：LRI 码 + 时间戳
const recordHeaderLen = 8

// LookupLRI 先按去掉 class 的码查找，找不到再按完整 3 字节查找
func LookupLRI(code uint32) (LRI, bool) {
	if l := LRI(code & 0x00FFFF00); isKnown(l) {
		return l, true
	}
	if l := LRI(code & 0x00FFFFFF); isKnown(l) {
		return l, true
	}
	return 0, false
}

func isKnown(l LRI) bool {
	_, ok := lriTable[l]
	return ok
}

func (l LRI) String() string {
	if d, ok := lriTable[l]; ok {
		return d.name
	}
	return fmt.Sprintf("LRI(0x%06X)", uint32(l))
}

// Unit 单位
func (l LRI) Unit() Unit { return lriTable[l].unit }

// DefaultSize 退化情况下的记录长度
func (l LRI) DefaultSize() int {
	if d, ok := lriTable[l]; ok {
		return d.size
	}
	return minRecordSize
}

// IsCounter 64 位累计量
func (l LRI) IsCounter() bool { return lriTable[l].qword }

// MultiChannel 是否按 class 区分（如直流组串）
func (l LRI) MultiChannel() bool { return lriTable[l].multi }

// Scale 原始值换算为工程单位（调用方使用，解码器不做换算）
func Scale(l LRI, raw float64) float64 {
	switch l.Unit() {
	case UnitVolt, UnitHertz, UnitCelsius:
		return raw / 100
	case UnitDeciCelsius:
		return raw / 10
	case UnitAmpere, UnitKWh:
		return raw / 1000
	case UnitHour:
		return raw / 3600
	default:
		return raw
	}
}

// Metric 一次数据查询的 (command, first, last) 三元组
type Metric struct {
	Name    string
	Command uint32
	First   uint32
	Last    uint32
}

func (m Metric) String() string { return m.Name }

var (
	EnergyProduction    = Metric{"EnergyProduction", 0x54000200, 0x00260100, 0x002622FF}
	SpotDCPower         = Metric{"SpotDCPower", 0x53800200, 0x00251E00, 0x00251EFF}
	SpotDCVoltage       = Metric{"SpotDCVoltage", 0x53800200, 0x00451F00, 0x004521FF}
	SpotACPower         = Metric{"SpotACPower", 0x51000200, 0x00464000, 0x004642FF}
	SpotACVoltage       = Metric{"SpotACVoltage", 0x51000200, 0x00464800, 0x004655FF}
	SpotGridFrequency   = Metric{"SpotGridFrequency", 0x51000200, 0x00465700, 0x004657FF}
	MaxACPower          = Metric{"MaxACPower", 0x51000200, 0x00411E00, 0x004120FF}
	MaxACPower2         = Metric{"MaxACPower2", 0x51000200, 0x00832A00, 0x00832AFF}
	SpotACTotalPower    = Metric{"SpotACTotalPower", 0x51000200, 0x00263F00, 0x00263FFF}
	TypeLabel           = Metric{"TypeLabel", 0x58000200, 0x00821E00, 0x008220FF}
	SoftwareVersion     = Metric{"SoftwareVersion", 0x58000200, 0x00823400, 0x008234FF}
	DeviceStatus        = Metric{"DeviceStatus", 0x51800200, 0x00214800, 0x002148FF}
	GridRelayStatus     = Metric{"GridRelayStatus", 0x51800200, 0x00416400, 0x004164FF}
	OperationTime       = Metric{"OperationTime", 0x54000200, 0x00462E00, 0x00462FFF}
	BatteryChargeStatus = Metric{"BatteryChargeStatus", 0x51000200, 0x00295A00, 0x00295AFF}
	BatteryInfo         = Metric{"BatteryInfo", 0x51000200, 0x00491E00, 0x00495DFF}
	InverterTemperature = Metric{"InverterTemperature", 0x52000200, 0x00237700, 0x002377FF}
	MeteringGridMsTotW  = Metric{"MeteringGridMsTotW", 0x51000200, 0x00463600, 0x004637FF}
)

// Metrics 全部可查询指标
var Metrics = []Metric{
	EnergyProduction, SpotDCPower, SpotDCVoltage, SpotACPower, SpotACVoltage,
	SpotGridFrequency, MaxACPower, MaxACPower2, SpotACTotalPower, TypeLabel,
	SoftwareVersion, DeviceStatus, GridRelayStatus, OperationTime,
	BatteryChargeStatus, BatteryInfo, InverterTemperature, MeteringGridMsTotW,
}

// MetricByName 按名称查找（配置使用）
func MetricByName(name string) (Metric, bool) {
	for _, m := range Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}
