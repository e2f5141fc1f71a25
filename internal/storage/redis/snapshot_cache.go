package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/sma-bridge/internal/plant"
	"github.com/taoyao-code/sma-bridge/internal/poller"
	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// ErrMiss 缓存中没有该逆变器
var ErrMiss = errors.New("redis: snapshot not cached")

// CachedSnapshot 缓存的最新快照
type CachedSnapshot struct {
	Serial          string          `json:"serial"`
	CycleID         string          `json:"cycle_id"`
	Online          bool            `json:"online"`
	At              time.Time       `json:"at"`
	Name            string          `json:"name,omitempty"`
	DeviceType      string          `json:"device_type,omitempty"`
	SoftwareVersion string          `json:"software_version,omitempty"`
	Status          string          `json:"status,omitempty"`
	Readings        []plant.Reading `json:"readings,omitempty"`
}

// SnapshotCache 每台逆变器一个 key，TTL 过期即视为数据陈旧
type SnapshotCache struct {
	client *Client
	ttl    time.Duration
}

// NewSnapshotCache ttl 一般取 3 个轮询周期
func NewSnapshotCache(client *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) key(serial string) string { return c.client.Key("snapshot", serial) }
func (c *SnapshotCache) indexKey() string         { return c.client.Key("inverters") }

// Channel 周期完成通知频道
func (c *SnapshotCache) Channel() string { return c.client.Key("cycles") }

// Put 写入一台逆变器的快照
func (c *SnapshotCache) Put(ctx context.Context, snap CachedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(snap.Serial), data, c.ttl)
	pipe.SAdd(ctx, c.indexKey(), snap.Serial)
	_, err = pipe.Exec(ctx)
	return err
}

// Get 读取快照
func (c *SnapshotCache) Get(ctx context.Context, serial sma.Serial) (*CachedSnapshot, error) {
	data, err := c.client.Get(ctx, c.key(serial.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var snap CachedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", serial, err)
	}
	return &snap, nil
}

// List 全部未过期的快照，按序列号排序；过期的索引项顺带清理
func (c *SnapshotCache) List(ctx context.Context) ([]CachedSnapshot, error) {
	serials, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		return nil, nil
	}
	sort.Strings(serials)

	keys := make([]string, len(serials))
	for i, s := range serials {
		keys[i] = c.key(s)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []CachedSnapshot
	var stale []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, serials[i])
			continue
		}
		var snap CachedSnapshot
		if err := json.Unmarshal([]byte(str), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", serials[i], err)
		}
		out = append(out, snap)
	}
	if len(stale) > 0 {
		_ = c.client.SRem(ctx, c.indexKey(), stale...).Err()
	}
	return out, nil
}

// Publish 作为轮询下游：在线写入完整快照，离线只更新标记（保留旧读数）
func (c *SnapshotCache) Publish(ctx context.Context, cycleID string, readings []poller.InverterReading) error {
	for _, rd := range readings {
		snap := CachedSnapshot{Serial: rd.Serial.String(), CycleID: cycleID, Online: rd.Online, At: rd.At}
		if rd.Online && rd.Snapshot != nil {
			s := rd.Snapshot
			snap.Name, snap.DeviceType, snap.SoftwareVersion, snap.Status = s.Name, s.DeviceType, s.SoftwareVersion, s.Status
			snap.Readings = s.Readings()
		} else if prev, err := c.Get(ctx, rd.Serial); err == nil {
			prev.Online, prev.CycleID, prev.At = false, cycleID, rd.At
			snap = *prev
		}
		if err := c.Put(ctx, snap); err != nil {
			return fmt.Errorf("cache snapshot %s: %w", rd.Serial, err)
		}
	}
	return c.client.Publish(ctx, c.Channel(), cycleID).Err()
}
