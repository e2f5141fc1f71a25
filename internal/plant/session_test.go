package plant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/sma-bridge/internal/protocol/sma"
)

// 两台逆变器现场抓包：握手、识别、注销、登录、校时、软件版本查询
var capturedWrites = []string{
	// netID 查询
	"7E 17 00 69 00 00 00 00 00 00 01 00 00 00 00 00 01 02 76 65 72 0D 0A",
	// 根设备确认
	"7E 1F 00 61 00 00 00 00 00 00 06 B6 15 25 80 00 02 00 00 04 70 00 04 00 00 00 00 01 00 00 00",
	// 识别广播
	"7E 3F 00 41 3C 40 B8 EB 27 B8 FF FF FF FF FF FF 01 00 7E FF 03 60 65 09 A0 FF FF FF FF FF FF 00 00 7D 5D 00 15 60 AC 37 00 00 00 00 00 00 02 80 00 02 00 00 00 00 00 00 00 00 00 00 DE 6B 7E",
	// 注销
	"7E 3B 00 45 3C 40 B8 EB 27 B8 FF FF FF FF FF FF 01 00 7E FF 03 60 65 08 A0 FF FF FF FF FF FF 00 03 7D 5D 00 15 60 AC 37 00 03 00 00 00 00 03 80 0E 01 FD FF FF FF FF FF 4E CD 7E",
	// 登录
	"7E 53 00 2D 3C 40 B8 EB 27 B8 FF FF FF FF FF FF 01 00 7E FF 03 60 65 0E A0 FF FF FF FF FF FF 00 01 7D 5D 00 15 60 AC 37 00 01 00 00 00 00 04 80 0C 04 FD FF 07 00 00 00 84 03 00 00 E5 B7 FD 59 00 00 00 00 B8 B8 B8 B8 88 88 88 88 88 88 88 88 9E 64 7E",
	// 校时
	"7E 5B 00 25 3C 40 B8 EB 27 B8 06 B6 15 25 80 00 01 00 7E FF 03 60 65 10 A0 FF FF FF FF FF FF 00 00 7D 5D 00 15 60 AC 37 00 00 00 00 00 00 05 80 0A 02 00 F0 00 6D 23 00 00 6D 23 00 00 6D 23 00 E6 B7 FD 59 E6 B7 FD 59 E6 B7 FD 59 10 0E 00 00 01 00 00 00 01 00 00 00 28 E0 7E",
	// 软件版本查询
	"7E 3F 00 41 3C 40 B8 EB 27 B8 FF FF FF FF FF FF 01 00 7E FF 03 60 65 09 A0 FF FF FF FF FF FF 00 00 7D 5D 00 15 60 AC 37 00 00 00 00 00 00 06 80 00 02 00 58 00 34 82 00 FF 34 82 00 F3 D5 7E",
}

var capturedReads = []string{
	// hello (netID 4)
	"7E 1F 00 61 06 B6 15 25 80 00 00 00 00 00 00 00 02 00 00 04 70 00 04 00 00 00 00 01 00 00 00",
	// root info
	"7E 1F 00 61 06 B6 15 25 80 00 00 00 00 00 00 00 0A 00 06 B6 15 25 80 00 01 3C 40 B8 EB 27 B8",
	// link status（忽略）
	"7E 14 00 6A 06 B6 15 25 80 00 00 00 00 00 00 00 0C 00 02 00",
	// topology: 两台逆变器 + 本机
	"7E 2A 00 54 06 B6 15 25 80 00 00 00 00 00 00 00 05 00 54 2D 15 25 80 00 01 01 06 B6 15 25 80 00 01 01 3C 40 B8 EB 27 B8 02 01",
	// network ready / mesh update（识别阶段忽略）
	"7E 12 00 6C 06 B6 15 25 80 00 00 00 00 00 00 00 06 00",
	"7E 30 00 4E 06 B6 15 25 80 00 00 00 00 00 00 00 01 10 54 2D 15 25 80 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00",
	// 识别应答
	"7E 6A 00 14 06 B6 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 7D 33 90 7D 5D 00 15 60 AC 37 00 00 71 00 2D 38 2F 7D 5D 00 00 00 00 00 00 02 80 01 02 00 00 00 00 00 00 00 00 00 00 00 03 00 00 00 FF 00 00 80 07 00 60 01 00 71 00 2D 38 2F 7D 5D 00 00 0A 00 0C 00 00 00 00 00 00 00 03 00 00 00 01 01 00 00 C6 0F 7E",
	"7E 69 00 17 54 2D 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 7D 33 80 7D 5D 00 15 60 AC 37 00 00 63 00 C5 68 49 77 00 00 00 00 00 00 02 80 01 02 00 00 00 00 00 00 00 00 00 00 00 03 00 00 00 FF 00 00 58 07 00 00 01 00 63 00 C5 68 49 77 00 00 0A 00 0C 00 00 00 00 00 00 00 03 00 00 00 01 01 00 00 E8 7D 33 7E",
	// 登录应答
	"7E 54 00 2A 06 B6 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 0E 50 7D 5D 00 15 60 AC 37 00 01 71 00 2D 38 2F 7D 5D 00 01 00 00 00 00 04 80 0D 04 FD FF 07 00 00 00 84 03 00 00 E5 B7 FD 59 00 00 00 00 B8 B8 B8 B8 88 88 88 88 88 88 88 88 F2 09 7E",
	"7E 47 00 39 54 2D 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 0B 80 7D 5D 00 15 60 AC 37 00 01 63 00 C5 68 49 77 00 01 00 00 00 00 04 80 0D 04 FD FF 07 00 00 00 84 03 00 00 E5 B7 FD 59 00 00 00 00 08 F1 7E",
	// 软件版本应答，同一帧重复两次，06:B6 未应答
	"7E 6A 00 14 54 2D 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 7D 33 80 7D 5D 00 15 60 AC 37 00 A0 63 00 C5 68 49 77 00 00 00 00 00 00 06 80 01 02 00 58 05 00 00 00 05 00 00 00 01 34 82 00 FE B7 FD 59 00 00 00 00 00 00 00 00 FE FF FF FF FE FF FF FF 04 7A 09 7D 32 04 7A 09 7D 32 00 00 00 00 00 00 00 00 60 6F 7E",
	"7E 6A 00 14 54 2D 15 25 80 00 3C 40 B8 EB 27 B8 01 00 7E FF 03 60 65 7D 33 80 7D 5D 00 15 60 AC 37 00 A0 63 00 C5 68 49 77 00 00 00 00 00 00 06 80 01 02 00 58 05 00 00 00 05 00 00 00 01 34 82 00 FE B7 FD 59 00 00 00 00 00 00 00 00 FE FF FF FF FE FF FF FF 04 7A 09 7D 32 04 7A 09 7D 32 00 00 00 00 00 00 00 00 60 6F 7E",
}

func newCapturedSession(t *testing.T) (*Session, *scriptTransport, *stateRecorder) {
	t.Helper()
	ft := &scriptTransport{}
	for _, s := range capturedWrites {
		ft.expect = append(ft.expect, hexBytes(t, s))
	}
	for _, s := range capturedReads {
		ft.addRead(hexBytes(t, s))
	}
	rec := &stateRecorder{}
	s := New(ft, Options{
		Root:      mustAddr(t, "00:80:25:15:B6:06"),
		AppSerial: 0x37AC6015,
		Clock: &fakeClock{
			secs: []int64{1509799909, 1509799910},
			tz:   3600,
		},
		Observer: rec,
	})
	return s, ft, rec
}

func TestSessionCapturedExchange(t *testing.T) {
	ctx := context.Background()
	s, ft, rec := newCapturedSession(t)

	t.Run("握手与识别", func(t *testing.T) {
		require.NoError(t, s.Init(ctx))
		assert.Equal(t, StateIdentified, s.State())
		assert.Equal(t, byte(4), s.NetID())
		assert.Equal(t, "B8:27:EB:B8:40:3C", s.conn.Local.String())

		invs := s.Inverters()
		require.Len(t, invs, 2)
		assert.Equal(t, "00:80:25:15:2D:54", invs[0].Address.String())
		assert.Equal(t, sma.Serial{SUSyID: 99, Number: 2001299653}, invs[0].Serial)
		assert.Equal(t, byte(4), invs[0].NetID)
		assert.Equal(t, "00:80:25:15:B6:06", invs[1].Address.String())
		assert.Equal(t, sma.Serial{SUSyID: 113, Number: 2100246573}, invs[1].Serial)
		assert.Equal(t, byte(4), invs[1].NetID)
		for _, inv := range invs {
			assert.True(t, inv.Identified)
		}
	})

	t.Run("登录", func(t *testing.T) {
		require.NoError(t, s.Logon(ctx, UserGroupUser, "0000"))
		assert.Equal(t, StateLoggedOn, s.State())
		for _, inv := range s.Inverters() {
			assert.True(t, inv.LoggedOn, inv.Address.String())
		}
	})

	t.Run("校时", func(t *testing.T) {
		require.NoError(t, s.SetInverterTime(ctx))
	})

	t.Run("查询软件版本", func(t *testing.T) {
		res, err := s.Query(ctx, sma.SoftwareVersion)
		require.NoError(t, err)
		ok := sma.Serial{SUSyID: 99, Number: 2001299653}
		failed := sma.Serial{SUSyID: 113, Number: 2100246573}
		assert.Equal(t, []sma.Serial{ok}, res.OK)
		assert.Equal(t, []sma.Serial{failed}, res.Failed)
		require.Len(t, res.Records[ok], 1)
		assert.Equal(t, sma.NameplatePkgRev, res.Records[ok][0].LRI)
		assert.Equal(t, StateLoggedOn, s.State())

		snap, found := s.Snapshot(ok)
		require.True(t, found)
		assert.Equal(t, "12.09.122.R", snap.SoftwareVersion)

		snap, found = s.Snapshot(failed)
		require.True(t, found)
		assert.Empty(t, snap.SoftwareVersion)
	})

	t.Run("全部写出与抓包一致", func(t *testing.T) {
		assert.Len(t, ft.writes, len(capturedWrites))
		assert.Empty(t, ft.reads)
	})

	t.Run("关闭", func(t *testing.T) {
		require.NoError(t, s.Close())
		assert.True(t, ft.closed)
		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, []State{
			StateConnecting, StateIdentified, StateLoggedOn,
			StateQuerying, StateLoggedOn, StateDisconnected,
		}, rec.states)
		assert.Positive(t, rec.frames)
	})
}

func TestSessionConnectRetry(t *testing.T) {
	ctx := context.Background()
	root := sma.Address{0x06, 0xB6, 0x15, 0x25, 0x80, 0x00}

	t.Run("重试后连接成功", func(t *testing.T) {
		ft := &scriptTransport{openFails: 2}
		s := New(ft, Options{Root: root, ConnectRetries: 3})
		err := s.Init(ctx)
		// 握手阶段无数据，超时失败，但已经连上
		require.Error(t, err)
		assert.ErrorIs(t, err, sma.ErrTimeout)
		assert.Equal(t, 3, ft.opens)
		assert.True(t, ft.closed)
		assert.Equal(t, StateDisconnected, s.State())
	})

	t.Run("重试用尽", func(t *testing.T) {
		ft := &scriptTransport{openFails: 100}
		s := New(ft, Options{Root: root, ConnectRetries: 4})
		err := s.Init(ctx)
		require.Error(t, err)
		var te *sma.TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "connect", te.Op)
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.Equal(t, 4, ft.opens)
	})
}

func TestSessionMesh(t *testing.T) {
	ctx := context.Background()
	root := sma.Address{0x06, 0xB6, 0x15, 0x25, 0x80, 0x00}
	other := sma.Address{0x54, 0x2D, 0x15, 0x25, 0x80, 0x00}
	local := sma.Address{0x3C, 0x40, 0xB8, 0xEB, 0x27, 0xB8}

	handshake := func(t *testing.T, ft *scriptTransport) {
		ft.addRead(
			rawFrame(t, root, sma.Zero, sma.CmdHello, []byte{0x00, 0x04, 0x70, 0x00, 0x02, 0, 0, 0, 0, 1, 0, 0, 0}),
			rawFrame(t, root, sma.Zero, sma.CmdRootInfo, append(append(root[:], 0x01), local[:]...)),
			rawFrame(t, root, sma.Zero, sma.CmdNodeList, append(append(root[:], 0x01, 0x01), append(local[:], 0x02, 0x01)...)),
		)
	}

	t.Run("单机可见时重建组网", func(t *testing.T) {
		ft := &scriptTransport{}
		handshake(t, ft)
		topo := append(append(root[:], 0x01, 0x01), append(other[:], 0x01, 0x01)...)
		ft.addRead(
			rawFrame(t, root, local, sma.CmdVariable, nil),
			rawFrame(t, root, local, sma.CmdVariable, nil),
			rawFrame(t, root, local, sma.CmdVariable, nil),
			rawFrame(t, root, local, sma.CmdMeshUpdate, nil),
			rawFrame(t, root, local, sma.CmdNodeList, topo),
			rawFrame(t, root, local, sma.CmdNetworkReady, nil),
			appReply(t, root, local, sma.Serial{SUSyID: 113, Number: 1}, 1, make([]byte, 12)),
			appReply(t, other, local, sma.Serial{SUSyID: 99, Number: 2}, 1, make([]byte, 12)),
		)
		s := New(ft, Options{Root: root})
		require.NoError(t, s.Init(ctx))
		invs := s.Inverters()
		require.Len(t, invs, 2)
		assert.Equal(t, root, invs[0].Address)
		assert.Equal(t, other, invs[1].Address)
		assert.Equal(t, uint32(2), invs[1].Serial.Number)

		// 3 次 0x0003 组网命令
		var primers int
		for _, w := range ft.writes {
			f, err := sma.DecodeTransportFrame(w)
			require.NoError(t, err)
			if f.Command == sma.CmdGetVar {
				primers++
			}
		}
		assert.Equal(t, 3, primers)
	})

	t.Run("组网无应答返回协议错误", func(t *testing.T) {
		ft := &scriptTransport{}
		handshake(t, ft)
		ft.addRead(
			rawFrame(t, root, local, sma.CmdVariable, nil),
			rawFrame(t, root, local, sma.CmdVariable, nil),
			rawFrame(t, root, local, sma.CmdVariable, nil),
		)
		s := New(ft, Options{Root: root})
		err := s.Init(ctx)
		var pe *ProtocolError
		require.True(t, errors.As(err, &pe), "got %v", err)
		assert.Equal(t, StateDisconnected, s.State())
	})
}

func TestSessionIdentifyPartial(t *testing.T) {
	ctx := context.Background()
	root := sma.Address{0x06, 0xB6, 0x15, 0x25, 0x80, 0x00}
	other := sma.Address{0x54, 0x2D, 0x15, 0x25, 0x80, 0x00}
	stranger := sma.Address{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	local := sma.Address{0x3C, 0x40, 0xB8, 0xEB, 0x27, 0xB8}
	serialRoot := sma.Serial{SUSyID: 113, Number: 1}

	// 拓扑直接给出两台逆变器，不触发重建组网
	handshake := func(t *testing.T, ft *scriptTransport) {
		topo := append(append(root[:], 0x01, 0x01), append(other[:], 0x01, 0x01)...)
		ft.addRead(
			rawFrame(t, root, sma.Zero, sma.CmdHello, []byte{0x00, 0x04, 0x70, 0x00, 0x02, 0, 0, 0, 0, 1, 0, 0, 0}),
			rawFrame(t, root, sma.Zero, sma.CmdRootInfo, append(append(root[:], 0x01), local[:]...)),
			rawFrame(t, root, sma.Zero, sma.CmdNodeList, topo),
		)
	}

	tests := []struct {
		name    string
		replies func(t *testing.T) [][]byte
	}{
		{
			name: "未知地址应答忽略，另一台无应答",
			replies: func(t *testing.T) [][]byte {
				return [][]byte{
					appReply(t, stranger, local, sma.Serial{SUSyID: 77, Number: 9}, 1, make([]byte, 12)),
					appReply(t, root, local, serialRoot, 1, make([]byte, 12)),
				}
			},
		},
		{
			name: "应答缺失等待超时",
			replies: func(t *testing.T) [][]byte {
				return [][]byte{appReply(t, root, local, serialRoot, 1, make([]byte, 12))}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &scriptTransport{}
			handshake(t, ft)
			ft.addRead(tt.replies(t)...)

			s := New(ft, Options{Root: root})
			require.NoError(t, s.Init(ctx))
			assert.Equal(t, StateIdentified, s.State())

			invs := s.Inverters()
			require.Len(t, invs, 2)
			var identified int
			for _, inv := range invs {
				if inv.Identified {
					identified++
				}
			}
			assert.Equal(t, 1, identified)
			assert.Equal(t, serialRoot, invs[0].Serial)
			assert.False(t, invs[1].Identified)
			assert.True(t, invs[1].Serial.IsZero())

			_, ok := s.Snapshot(serialRoot)
			assert.True(t, ok)
			_, ok = s.Snapshot(sma.Serial{})
			assert.False(t, ok)
		})
	}
}

func TestSessionNotReady(t *testing.T) {
	ctx := context.Background()
	s := New(&scriptTransport{}, Options{})

	_, err := s.Query(ctx, sma.SpotACTotalPower)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.Logon(ctx, UserGroupUser, "0000"), ErrNotReady)
	assert.ErrorIs(t, s.SetInverterTime(ctx), ErrNotReady)
	assert.ErrorIs(t, s.Logoff(ctx), ErrNotReady)
}

func TestParseTopology(t *testing.T) {
	s := New(&scriptTransport{}, Options{})
	s.netID = 4
	payload := hexBytes(t, "54 2D 15 25 80 00 01 01 06 B6 15 25 80 00 01 01 3C 40 B8 EB 27 B8 02 01 AA")
	invs := s.parseTopology(payload)
	require.Len(t, invs, 2)
	assert.Equal(t, "00:80:25:15:2D:54", invs[0].Address.String())
	assert.Equal(t, "00:80:25:15:B6:06", invs[1].Address.String())
	assert.Equal(t, byte(4), invs[1].NetID)
}
