package sma

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// 常用状态标签
const (
	TagFault   int32 = 35
	TagOff     int32 = 303
	TagOk      int32 = 307
	TagWarning int32 = 455
	TagClosed  int32 = 51
	TagOpen    int32 = 311
)

// TagMap 状态/设备类标签 -> 描述
type TagMap struct {
	mu   sync.RWMutex
	Tags map[int32]string `yaml:"tags"`
}

// DefaultTagMap 返回内置标签表
func DefaultTagMap() *TagMap {
	return &TagMap{
		Tags: map[int32]string{
			TagFault:   "Fault",
			TagOff:     "Off",
			TagOk:      "Ok",
			TagWarning: "Warning",
			TagClosed:  "Closed",
			TagOpen:    "Open",
			// 设备类
			8000: "All Devices",
			8001: "Solar Inverters",
			8002: "Wind Turbine Inverter",
			8007: "Batterie Inverters",
			8033: "Consumer",
			8064: "Sensor System in General",
			8065: "Electricity meter",
			8128: "Communication products",
		},
	}
}

// LoadTagMap 读取 YAML 并合并到内置标签表（型号表等按现场补充）
func LoadTagMap(path string) (*TagMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag map: %w", err)
	}
	var extra struct {
		Tags map[int32]string `yaml:"tags"`
	}
	if err := yaml.Unmarshal(b, &extra); err != nil {
		return nil, fmt.Errorf("parse tag map: %w", err)
	}
	m := DefaultTagMap()
	for k, v := range extra.Tags {
		m.Tags[k] = v
	}
	return m, nil
}

// Name 未知标签返回数字本身
func (m *TagMap) Name(tag int32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.Tags[tag]; ok {
		return s
	}
	return fmt.Sprintf("%d", tag)
}

// Set 运行时补充
func (m *TagMap) Set(tag int32, name string) {
	m.mu.Lock()
	m.Tags[tag] = name
	m.mu.Unlock()
}
