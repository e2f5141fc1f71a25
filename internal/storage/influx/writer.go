package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/sma-bridge/internal/config"
	"github.com/taoyao-code/sma-bridge/internal/poller"
)

// Writer 把每个周期的读数写成 InfluxDB 点：每台逆变器一个点，每个 LRI 一个字段
type Writer struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	logger      *zap.Logger
}

// NewWriter 创建写入器；写入同步完成，失败由 Publish 返回
func NewWriter(cfg cfgpkg.InfluxConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newWriter(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement, logger)
}

func newWriter(client influxdb2.Client, w api.WriteAPIBlocking, measurement string, logger *zap.Logger) *Writer {
	if measurement == "" {
		measurement = "sma_inverter"
	}
	return &Writer{client: client, write: w, measurement: measurement, logger: logger.Named("influx")}
}

// Points 在线设备的读数转成点；缺失值与文本不写入，状态写第一个标签码
func (w *Writer) Points(cycleID string, readings []poller.InverterReading) []*write.Point {
	var points []*write.Point
	for _, rd := range readings {
		if !rd.Online || rd.Snapshot == nil {
			continue
		}
		fields := make(map[string]interface{})
		for _, r := range rd.Snapshot.Readings() {
			switch {
			case r.Missing || r.Text != "":
			case len(r.Tags) > 0:
				fields[r.Key] = int64(r.Tags[0])
			default:
				fields[r.Key] = r.Value
			}
		}
		if len(fields) == 0 {
			continue
		}
		tags := map[string]string{"serial": rd.Serial.String(), "cycle_id": cycleID}
		if t := rd.Snapshot.DeviceType; t != "" {
			tags["device_type"] = t
		}
		points = append(points, influxdb2.NewPoint(w.measurement, tags, fields, rd.At))
	}
	return points
}

// Publish 作为轮询下游
func (w *Writer) Publish(ctx context.Context, cycleID string, readings []poller.InverterReading) error {
	points := w.Points(cycleID, readings)
	if len(points) == 0 {
		return nil
	}
	if err := w.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	w.logger.Debug("points written", zap.Int("points", len(points)))
	return nil
}

// Health 检查服务端状态
func (w *Writer) Health(ctx context.Context) error {
	h, err := w.client.Health(ctx)
	if err != nil {
		return err
	}
	if h.Status != "pass" {
		return fmt.Errorf("influx status %s", h.Status)
	}
	return nil
}

// Close 释放客户端
func (w *Writer) Close() {
	w.client.Close()
}
