package plant

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// QueryResult 一次查询的结果
type QueryResult struct {
	Metric  sma.Metric
	OK      []sma.Serial
	Failed  []sma.Serial
	Records map[sma.Serial][]sma.Record
}

// Query 广播数据查询，每台已识别逆变器等待一个应答。
// 超时的设备记入 Failed，其余照常返回；只有链路错误返回 error。
func (s *Session) Query(ctx context.Context, m sma.Metric) (*QueryResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	prev := s.state
	s.setState(StateQuerying)
	defer s.setState(prev)

	body := sma.NewWriter(12).Uint32(m.Command).Uint32(m.First).Uint32(m.Last).Bytes()
	if err := s.conn.SendApp(sma.Broadcast, s.nextFrame(0x00, body)); err != nil {
		return nil, err
	}

	res := &QueryResult{Metric: m, Records: make(map[sma.Serial][]sma.Record)}
	pending := make(map[sma.Serial]bool, len(s.bySerial))
	for serial := range s.bySerial {
		pending[serial] = true
	}

	log := s.logger.With(zap.Stringer("metric", m), zap.Uint16("pckt_id", s.pcktID))
	for len(pending) > 0 {
		pkt, err := s.conn.ReceiveApp(ctx, sma.CmdPPP)
		if isFatal(err) {
			return nil, fmt.Errorf("query %s: %w", m, err)
		}
		if err != nil {
			log.Debug("query wait ended", zap.Int("pending", len(pending)), zap.Error(err))
			break
		}
		if id := pkt.App.PacketID(); id != s.pcktID {
			log.Debug("packet id mismatch", zap.Uint16("got", id))
			continue
		}
		serial := pkt.App.Source()
		inv, ok := s.bySerial[serial]
		if !ok {
			log.Warn("reply from unknown serial", zap.Stringer("serial", serial))
			continue
		}
		if !pending[serial] {
			log.Debug("duplicate reply", zap.Stringer("serial", serial))
			continue
		}

		records, err := sma.DecodeRecords(pkt.App, s.logger.Named("record"))
		if err != nil {
			log.Warn("decode records", zap.Stringer("serial", serial), zap.Error(err))
			continue
		}
		delete(pending, serial)
		res.Records[serial] = records
		s.snapshots[serial].Apply(records, s.opts.Tags, s.opts.Clock.Now())
		log.Debug("query reply",
			zap.Stringer("serial", serial),
			zap.Stringer("address", inv.Address),
			zap.Int("records", len(records)))
	}

	for _, inv := range s.inverters {
		if s.bySerial[inv.Serial] != inv {
			continue
		}
		if pending[inv.Serial] {
			res.Failed = append(res.Failed, inv.Serial)
		} else {
			res.OK = append(res.OK, inv.Serial)
		}
	}
	if len(res.Failed) > 0 {
		log.Info("query incomplete", zap.Int("ok", len(res.OK)), zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}
