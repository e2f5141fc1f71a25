package plant

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// DefaultConnectRetries 建链重试次数
const DefaultConnectRetries = 10

// 组网阶段最多等待的任意帧次数
const meshWaits = 6

// Observer 会话观测（帧统计 + 状态）
type Observer interface {
	sma.Observer
	ObserveState(state int)
}

// Options 会话参数
type Options struct {
	// Root 配置的根设备地址（握手中可能被替换）
	Root           sma.Address
	ConnectRetries int
	ReadTimeout    time.Duration
	Version        ProtocolVersion
	// LogonRounds 登录应答的最大等待轮数
	LogonRounds int
	// AppSerial 本端序列号，0 时随机生成
	AppSerial uint32
	Clock     Clock
	Tags      *sma.TagMap
	Logger    *zap.Logger
	Observer  Observer
}

func (o *Options) setDefaults() {
	if o.ConnectRetries <= 0 {
		o.ConnectRetries = DefaultConnectRetries
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = sma.DefaultReadTimeout
	}
	if o.LogonRounds <= 0 {
		o.LogonRounds = 3
	}
	if o.AppSerial == 0 {
		o.AppSerial = 900000000 + uint32(rand.Intn(100000000))
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Tags == nil {
		o.Tags = sma.DefaultTagMap()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Inverter 拓扑中发现的逆变器
type Inverter struct {
	Address    sma.Address
	NetID      byte
	Serial     sma.Serial
	Identified bool
	LoggedOn   bool
}

// Session 一个传输链路上的完整会话：握手、登录、查询、注销。
// 非并发安全，调用方串行使用。
type Session struct {
	opts   Options
	t      sma.Transport
	conn   *sma.Conn
	logger *zap.Logger

	state  State
	pcktID uint16
	root   sma.Address
	netID  byte

	inverters []*Inverter
	byAddr    map[sma.Address]*Inverter
	bySerial  map[sma.Serial]*Inverter
	snapshots map[sma.Serial]*Snapshot
}

// New 创建会话，不做任何 IO
func New(t sma.Transport, opts Options) *Session {
	opts.setDefaults()
	logger := opts.Logger.Named("plant").With(zap.Stringer("root", opts.Root))
	conn := sma.NewConn(t, opts.Root, opts.Logger.Named("sma"))
	conn.ReadTimeout = opts.ReadTimeout
	if opts.Observer != nil {
		conn.SetObserver(opts.Observer)
	}
	return &Session{
		opts:      opts,
		t:         t,
		conn:      conn,
		logger:    logger,
		root:      opts.Root,
		byAddr:    make(map[sma.Address]*Inverter),
		bySerial:  make(map[sma.Serial]*Inverter),
		snapshots: make(map[sma.Serial]*Snapshot),
	}
}

// State 当前状态
func (s *Session) State() State { return s.state }

// Root 当前根设备地址
func (s *Session) Root() sma.Address { return s.root }

// NetID 握手得到的网络号
func (s *Session) NetID() byte { return s.netID }

// AppSerial 本端序列号
func (s *Session) AppSerial() uint32 { return s.opts.AppSerial }

// Inverters 按拓扑顺序返回逆变器副本
func (s *Session) Inverters() []Inverter {
	out := make([]Inverter, 0, len(s.inverters))
	for _, inv := range s.inverters {
		out = append(out, *inv)
	}
	return out
}

// Snapshot 某台逆变器的快照副本
func (s *Session) Snapshot(serial sma.Serial) (*Snapshot, bool) {
	snap, ok := s.snapshots[serial]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state change", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveState(int(st))
	}
}

// nextFrame 递增包序号并构造发往全部设备的应用层帧
func (s *Session) nextFrame(ctrl byte, body []byte) *sma.AppFrame {
	s.pcktID++
	return &sma.AppFrame{
		DstClass:    sma.ClassDevice,
		DstSUSyID:   sma.AnySUSyID,
		DstSerial:   sma.AnySerial,
		SrcClass:    ctrl,
		SrcSUSyID:   sma.AppSUSyID,
		SrcSerial:   s.opts.AppSerial,
		Ctrl:        ctrl,
		PacketIDRaw: s.pcktID,
		Body:        body,
	}
}

// Init 建链、握手、发现拓扑并识别逆变器，结束于 Identified
func (s *Session) Init(ctx context.Context) error {
	if s.state.ready() {
		s.logger.Warn("session already initialized")
		return nil
	}
	s.setState(StateConnecting)

	err := Retry(ctx, s.opts.ConnectRetries, nil, func(attempt int) error {
		s.logger.Debug("connecting", zap.Int("attempt", attempt), zap.Int("max", s.opts.ConnectRetries))
		err := s.t.Open(ctx)
		if err != nil {
			s.logger.Debug("connect failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		s.setState(StateDisconnected)
		return &sma.TransportError{Op: "connect", Err: err}
	}

	if err := s.handshake(ctx); err != nil {
		_ = s.t.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("init plant: %w", err)
	}
	s.setState(StateIdentified)
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	// netID
	if err := s.conn.Send(sma.VersionQueryAddress, sma.CmdVersion, []byte("ver\r\n")); err != nil {
		return err
	}
	f, err := s.conn.Receive(ctx, sma.CmdHello)
	if err != nil {
		return fmt.Errorf("wait net id: %w", err)
	}
	if len(f.Payload) < 5 {
		return fmt.Errorf("%w: hello payload %d bytes", sma.ErrTruncated, len(f.Payload))
	}
	s.netID = f.Payload[4]
	s.logger.Debug("net id", zap.Uint8("net_id", s.netID))

	// 根设备确认
	hello := sma.NewWriter(13).
		Uint32(0x00700400).
		Uint8(s.netID).
		Uint32(0).
		Uint32(1).
		Bytes()
	if err := s.conn.Send(s.root, sma.CmdHello, hello); err != nil {
		return err
	}
	f, err = s.conn.Receive(ctx, sma.CmdRootInfo)
	if err != nil {
		return fmt.Errorf("wait root info: %w", err)
	}
	if len(f.Payload) < 13 {
		return fmt.Errorf("%w: root info payload %d bytes", sma.ErrTruncated, len(f.Payload))
	}
	if f.Payload[6] == 2 {
		s.root, _ = sma.AddressFrom(f.Payload, 0)
		s.conn.Peer = s.root
		s.logger.Info("root device changed", zap.Stringer("root", s.root))
	}
	s.conn.Local, _ = sma.AddressFrom(f.Payload, 7)
	s.logger.Debug("local address", zap.Stringer("local", s.conn.Local))

	f, err = s.conn.Receive(ctx, sma.CmdNodeList)
	if err != nil {
		return fmt.Errorf("wait topology: %w", err)
	}
	s.setInverters(s.parseTopology(f.Payload))

	if len(s.inverters) == 1 && s.netID > 1 {
		if err := s.buildMesh(ctx); err != nil {
			return err
		}
	}
	if len(s.inverters) == 0 {
		return ErrNoInverters
	}

	if err := s.identify(ctx); err != nil {
		return err
	}
	return s.sendLogoff()
}

// parseTopology 8 字节一项，第 6、7 字节均为 1 表示逆变器
func (s *Session) parseTopology(payload []byte) []*Inverter {
	var out []*Inverter
	for off, n := 0, 1; off+8 <= len(payload); off, n = off+8, n+1 {
		addr, _ := sma.AddressFrom(payload, off)
		if payload[off+6] != 0x01 || payload[off+7] != 0x01 {
			s.logger.Debug("other device", zap.Int("index", n), zap.Stringer("address", addr))
			continue
		}
		s.logger.Debug("found inverter", zap.Int("index", n), zap.Stringer("address", addr))
		out = append(out, &Inverter{Address: addr, NetID: s.netID})
	}
	return out
}

func (s *Session) setInverters(list []*Inverter) {
	s.inverters = list
	s.byAddr = make(map[sma.Address]*Inverter, len(list))
	s.bySerial = make(map[sma.Serial]*Inverter, len(list))
	for _, inv := range list {
		s.byAddr[inv.Address] = inv
	}
}

// buildMesh 多机系统只看到一台时重建组网
func (s *Session) buildMesh(ctx context.Context) error {
	primers := [][]byte{
		{0x0A, 0x00, 0xAC},
		{0x02, 0x00},
		{0x01, 0x00, 0x01},
	}
	for _, p := range primers {
		if err := s.conn.Send(s.root, sma.CmdGetVar, p); err != nil {
			return err
		}
		if _, err := s.conn.Receive(ctx, sma.CmdVariable); err != nil {
			return fmt.Errorf("wait mesh variable: %w", err)
		}
	}

	s.logger.Info("waiting for network to be built")
	var f *sma.TransportFrame
	for i := 0; i < meshWaits; i++ {
		var err error
		f, err = s.conn.Receive(ctx, sma.CmdAny)
		if err == nil {
			break
		}
		if !IsTimeout(err) {
			return err
		}
	}
	if f == nil {
		return &ProtocolError{Msg: "network not built; for a single inverter system disable multi inverter mode"}
	}

	cmd := f.Command
	if cmd == sma.CmdMeshUpdate {
		var err error
		if f, err = s.conn.Receive(ctx, sma.CmdNodeList); err != nil {
			return fmt.Errorf("wait topology after mesh update: %w", err)
		}
		cmd = f.Command
	}
	s.logger.Debug("mesh packet", zap.Uint16("cmd", cmd))
	if cmd == sma.CmdNodeList {
		s.setInverters(s.parseTopology(f.Payload))
	}
	if cmd != sma.CmdNetworkReady {
		if _, err := s.conn.Receive(ctx, sma.CmdNetworkReady); err != nil {
			return fmt.Errorf("wait network ready: %w", err)
		}
	}
	return nil
}

// identify 广播识别，每台候选等待一个应答，按链路源地址匹配
func (s *Session) identify(ctx context.Context) error {
	body := sma.NewWriter(12).Uint32(0x00000200).Uint32(0).Uint32(0).Bytes()
	if err := s.conn.SendApp(sma.Broadcast, s.nextFrame(0x00, body)); err != nil {
		return err
	}

	for range s.inverters {
		pkt, err := s.conn.ReceiveApp(ctx, sma.CmdPPP)
		if err != nil {
			if IsTimeout(err) {
				s.logger.Warn("identification reply missing", zap.Error(err))
				break
			}
			return err
		}
		inv, ok := s.byAddr[pkt.Source]
		if !ok {
			s.logger.Debug("unexpected identification reply", zap.Stringer("src", pkt.Source))
			continue
		}
		s.assignSerial(inv, pkt.App.Source())
		inv.Identified = true
		s.logger.Info("inverter identified",
			zap.Stringer("address", inv.Address),
			zap.Stringer("serial", inv.Serial))
	}
	return nil
}

func (s *Session) assignSerial(inv *Inverter, serial sma.Serial) {
	if inv.Serial != serial {
		delete(s.bySerial, inv.Serial)
		inv.Serial = serial
	}
	s.bySerial[serial] = inv
	if _, ok := s.snapshots[serial]; !ok {
		s.snapshots[serial] = newSnapshot(inv)
	}
}

// Close 关闭链路
func (s *Session) Close() error {
	err := s.t.Close()
	s.setState(StateDisconnected)
	if err != nil {
		return &sma.TransportError{Op: "close", Err: err}
	}
	return nil
}

func (s *Session) now() uint32 {
	return uint32(s.opts.Clock.Now().Unix())
}

func (s *Session) requireReady() error {
	if !s.state.ready() {
		return fmt.Errorf("%w: state %s", ErrNotReady, s.state)
	}
	return nil
}

// bodyUint32 读取应用层 body 中的 32 位值
func bodyUint32(app *sma.AppFrame, off int) (uint32, bool) {
	if off+4 > len(app.Body) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(app.Body[off:]), true
}

// isFatal 除超时外的接收错误都结束当前操作
func isFatal(err error) bool {
	return err != nil && !IsTimeout(err)
}
