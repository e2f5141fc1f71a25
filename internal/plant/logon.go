package plant

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// UserGroup 登录用户组
type UserGroup int

const (
	UserGroupUser UserGroup = iota
	UserGroupInstaller
)

// Code 线上用户组编码
func (g UserGroup) Code() uint32 {
	if g == UserGroupInstaller {
		return 0x0000000A
	}
	return 0x00000007
}

// offset 密码编码偏移
func (g UserGroup) offset() byte {
	if g == UserGroupInstaller {
		return 0xBB
	}
	return 0x88
}

func (g UserGroup) String() string {
	if g == UserGroupInstaller {
		return "installer"
	}
	return "user"
}

// ParseUserGroup 解析配置值
func ParseUserGroup(s string) (UserGroup, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return UserGroupUser, nil
	case "installer":
		return UserGroupInstaller, nil
	}
	return UserGroupUser, fmt.Errorf("unknown user group %q", s)
}

// PasswordLen 编码后密码长度
const PasswordLen = 12

// EncodePassword 每个字符加偏移，不足 12 字节以偏移值补齐，超出部分截断
func EncodePassword(g UserGroup, password string) []byte {
	off := g.offset()
	out := make([]byte, PasswordLen)
	for i := range out {
		if i < len(password) {
			out[i] = password[i] + off
		} else {
			out[i] = off
		}
	}
	return out
}

// ProtocolVersion 登录应答处理方式
type ProtocolVersion int

const (
	// ProtocolCurrent 一轮接收，任一逆变器确认即成功
	ProtocolCurrent ProtocolVersion = iota
	// ProtocolLegacy 重发登录直到全部逆变器确认
	ProtocolLegacy
)

func (v ProtocolVersion) String() string {
	if v == ProtocolLegacy {
		return "legacy"
	}
	return "current"
}

// ParseProtocolVersion 解析配置值
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current":
		return ProtocolCurrent, nil
	case "legacy":
		return ProtocolLegacy, nil
	}
	return ProtocolCurrent, fmt.Errorf("unknown protocol version %q", s)
}

// Logon 广播登录；应答需回显包序号和发送时间
func (s *Session) Logon(ctx context.Context, group UserGroup, password string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	now := s.now()
	body := sma.NewWriter(32).
		Uint32(0xFFFD040C).
		Uint32(group.Code()).
		Uint32(0x00000384). // 900 s
		Uint32(now).
		Uint32(0).
		Write(EncodePassword(group, password)).
		Bytes()
	frame := s.nextFrame(0x01, body)
	if err := s.conn.SendApp(sma.Broadcast, frame); err != nil {
		return err
	}

	for _, inv := range s.inverters {
		inv.LoggedOn = false
	}
	legacy := s.opts.Version == ProtocolLegacy
	valid := 0
	for round := 0; round < s.opts.LogonRounds; round++ {
		if round > 0 && legacy {
			s.logger.Debug("resend logon", zap.Int("round", round+1))
			// 重发使用同一包序号与时间
			if err := s.conn.SendApp(sma.Broadcast, frame); err != nil {
				return err
			}
		}
		want := len(s.inverters)
		if legacy {
			want -= valid
		}
		timedOut := false
		for i := 0; i < want; i++ {
			pkt, err := s.conn.ReceiveApp(ctx, sma.CmdPPP)
			if isFatal(err) {
				return fmt.Errorf("logon: %w", err)
			}
			if err != nil {
				timedOut = true
				break
			}
			if s.acceptLogon(pkt, now) {
				valid++
			}
		}
		if legacy && valid >= len(s.inverters) {
			break
		}
		if !legacy && (valid > 0 || timedOut) {
			break
		}
	}
	if valid == 0 {
		return ErrLogonFailed
	}
	s.setState(StateLoggedOn)
	return nil
}

func (s *Session) acceptLogon(pkt *sma.Packet, now uint32) bool {
	id := pkt.App.PacketID()
	if id != s.pcktID {
		s.logger.Debug("logon packet id mismatch", zap.Uint16("want", s.pcktID), zap.Uint16("got", id))
		return false
	}
	if echo, ok := bodyUint32(pkt.App, 12); !ok || echo != now {
		s.logger.Debug("logon time mismatch", zap.Uint32("want", now), zap.Uint32("got", echo))
		return false
	}
	inv, ok := s.byAddr[pkt.Source]
	if !ok {
		s.logger.Debug("unexpected logon reply", zap.Stringer("src", pkt.Source))
		return false
	}
	if inv.LoggedOn {
		return false
	}
	s.assignSerial(inv, pkt.App.Source())
	inv.LoggedOn = true
	s.logger.Info("inverter logged on", zap.Stringer("serial", inv.Serial))
	return true
}

// Logoff 广播注销，不等待应答
func (s *Session) Logoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := s.sendLogoff(); err != nil {
		return err
	}
	for _, inv := range s.inverters {
		inv.LoggedOn = false
	}
	s.setState(StateLoggedOff)
	return nil
}

func (s *Session) sendLogoff() error {
	body := sma.NewWriter(8).Uint32(0xFFFD010E).Uint32(0xFFFFFFFF).Bytes()
	return s.conn.SendApp(sma.Broadcast, s.nextFrame(0x03, body))
}

// SetInverterTime 向根设备下发本地时间与时区偏移，不等待应答
func (s *Session) SetInverterTime(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	t := s.opts.Clock.Now()
	now := uint32(t.Unix())
	tz := s.opts.Clock.TimezoneOffset(t)
	s.logger.Debug("set inverter time", zap.Time("local", t), zap.Int("tz_offset", tz))

	body := sma.NewWriter(40).
		Uint32(0xF000020A).
		Uint32(0x00236D00).
		Uint32(0x00236D00).
		Uint32(0x00236D00).
		Uint32(now).
		Uint32(now).
		Uint32(now).
		Uint32(uint32(int32(tz))).
		Uint32(1).
		Uint32(1).
		Bytes()
	return s.conn.SendApp(s.root, s.nextFrame(0x00, body))
}
