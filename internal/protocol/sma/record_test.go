package sma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 型号标签应答（两段 PPP 分片拼接后的链路帧）
const (
	typeLabelPart1 = "7E FF 03 60 65 27 90 7D 5D 00 35 DB C6 38 00 A0 71 00 2D 38 2F 7D 5D 00 00 00 00 00 00 0B 80 01 02 00 58 00 00 00 00 02 00 00 00 01 1E 82 10 A6 7D 32 87 62 53 4E 3A 20 32 31 30 30 32 34 36 35 37 33 00 00 E6 00 00 00 E6 00 00 00 00 00 00 00 00 00 00 00 01 1F 82 08 A6 7D 32"
	typeLabelPart2 = "87 62 41 1F 00 01 FE FF FF 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 01 20 82 08 A6 7D 32 87 62 2E 02 00 01 FE FF FF 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 B2 8B 7E"
)

// 软件版本单条记录
const pkgRevRecord = "01 34 82 00 FE B7 FD 59 00 00 00 00 00 00 00 00 FE FF FF FF FE FF FF FF 04 7A 09 12 04 7A 09 12 00 00 00 00 00 00 00 00"

func typeLabelApp(t *testing.T) *AppFrame {
	t.Helper()
	wire := append(fromHex(t, typeLabelPart1), fromHex(t, typeLabelPart2)...)
	lf, _, err := DecodeLinkFrame(wire)
	require.NoError(t, err)
	app, err := DecodeAppFrame(lf.Payload, nil)
	require.NoError(t, err)
	return app
}

func TestDecodeRecordsTypeLabel(t *testing.T) {
	app := typeLabelApp(t)
	assert.Equal(t, byte(0x27), app.RecWords)
	assert.Equal(t, uint16(11), app.PacketID())
	assert.Equal(t, Serial{SUSyID: 113, Number: 2100246573}, app.Source())

	h, err := app.DataHeader()
	require.NoError(t, err)
	assert.Equal(t, DataHeader{Command: 0x58000201, First: 0, Last: 2}, h)

	recs, err := DecodeRecords(app, nil)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	ts := time.Unix(0x628712A6, 0)

	assert.Equal(t, NameplateLocation, recs[0].LRI)
	assert.Equal(t, TypeString, recs[0].Type)
	assert.Equal(t, KindText, recs[0].Value.Kind)
	assert.Equal(t, "SN: 2100246573", recs[0].Value.Text)
	assert.True(t, recs[0].Timestamp.Equal(ts))

	assert.Equal(t, NameplateMainModel, recs[1].LRI)
	assert.Equal(t, KindStatus, recs[1].Value.Kind)
	assert.Equal(t, []int32{8001}, recs[1].Value.Tags)

	assert.Equal(t, NameplateModel, recs[2].LRI)
	assert.Equal(t, []int32{558}, recs[2].Value.Tags)
}

func TestDecodeRecordsSoftwareVersion(t *testing.T) {
	body := append(fromHex(t, "01 02 00 58 05 00 00 00 05 00 00 00"), fromHex(t, pkgRevRecord)...)
	app := &AppFrame{RecWords: 0x13, Body: body}

	recs, err := DecodeRecords(app, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, NameplatePkgRev, r.LRI)
	assert.Equal(t, KindULong, r.Value.Kind)
	assert.False(t, r.Value.Missing)
	assert.Equal(t, uint64(0x12097A04), r.Value.U)
	assert.Equal(t, "12.09.122.R", FormatVersion(uint32(r.Value.U)))
}

// recWords 与 LRI 区间不一致时算出的记录长度只有 4 字节
func TestDecodeRecordsBadRecWords(t *testing.T) {
	body := fromHex(t, "00 02 00 51 00 3F 26 00 00 3F 26 00"+
		" 01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 B8 0B 00 00 B8 0B 00 00 B8 0B 00 00")
	tests := []struct {
		name     string
		recWords byte
		want     int
	}{
		{"recWords=10 单个 LRI", 10, 1},
		{"recWords=9 长度为 0", 9, 1},
		{"recWords 小于 9", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &AppFrame{RecWords: tt.recWords, Body: body}
			var recs []Record
			require.NotPanics(t, func() {
				var err error
				recs, err = DecodeRecords(app, nil)
				require.NoError(t, err)
			})
			require.Len(t, recs, tt.want)
			assert.Equal(t, GridMsTotW, recs[0].LRI)
			assert.Equal(t, uint64(3000), recs[0].Value.U)
		})
	}
}

func TestDecodeRecordsSized(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		size  int
		check func(t *testing.T, recs []Record)
	}{
		{
			name: "无符号缺失值",
			data: "01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 FF FF FF FF FF FF FF FF FF FF FF FF",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.True(t, recs[0].Value.Missing)
				_, ok := recs[0].Scaled()
				assert.False(t, ok)
			},
		},
		{
			name: "有符号缺失值",
			data: "01 3F 26 40 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 80 00 00 00 80 00 00 00 80",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, KindSLong, recs[0].Value.Kind)
				assert.True(t, recs[0].Value.Missing)
			},
		},
		{
			name: "有符号负值",
			data: "01 3F 26 40 00 00 00 00 00 00 00 00 00 00 00 00 F6 FF FF FF 00 00 00 80 00 00 00 80",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, int64(-10), recs[0].Value.S)
			},
		},
		{
			name: "退化时按首条 LRI 取长度",
			data: "01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 E8 03 00 00 E8 03 00 00 E8 03 00 00" +
				" 01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 D0 07 00 00 D0 07 00 00 D0 07 00 00",
			size: 0,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 2)
				assert.Equal(t, uint64(1000), recs[0].Value.U)
				assert.Equal(t, uint64(2000), recs[1].Value.U)
			},
		},
		{
			name: "记录长度小于记录头时按 LRI 取长度",
			data: "01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 E8 03 00 00 E8 03 00 00 E8 03 00 00",
			size: 4,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, uint64(1000), recs[0].Value.U)
			},
		},
		{
			name: "未知 LRI 跳过",
			data: "01 99 99 00 00 00 00 00 00 00 00 00 00 00 00 00 01 00 00 00 01 00 00 00 01 00 00 00" +
				" 01 57 46 00 00 00 00 00 00 00 00 00 00 00 00 00 88 13 00 00 88 13 00 00 88 13 00 00",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, GridMsHz, recs[0].LRI)
				v, ok := recs[0].Scaled()
				require.True(t, ok)
				assert.InDelta(t, 50.0, v, 1e-9)
			},
		},
		{
			name: "FLOAT 类型跳过",
			data: "01 3F 26 20 00 00 00 00 00 00 00 00 00 00 00 00 00 00 80 3F 00 00 80 3F 00 00 80 3F",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				assert.Empty(t, recs)
			},
		},
		{
			name: "64 位计数器",
			data: "01 01 26 00 00 00 00 00 4E 61 BC 00 00 00 00 00",
			size: 16,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, uint64(12345678), recs[0].Value.U)
				v, ok := recs[0].Scaled()
				require.True(t, ok)
				assert.InDelta(t, 12345.678, v, 1e-9)
			},
		},
		{
			name: "计数器缺失值",
			data: "01 22 26 00 00 00 00 00 FF FF FF FF FF FF FF FF",
			size: 16,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.True(t, recs[0].Value.Missing)
			},
		},
		{
			name: "状态记录只取选中标签",
			data: "01 48 21 08 00 00 00 00 23 00 00 00 33 01 00 01 C7 01 00 00 FE FF FF 00" +
				" 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00",
			size: 40,
			check: func(t *testing.T, recs []Record) {
				require.Len(t, recs, 1)
				assert.Equal(t, []int32{TagOk}, recs[0].Value.Tags)
			},
		},
		{
			name: "尾部不完整记录丢弃",
			data: "01 3F 26 00 00 00 00 00 00 00 00 00 00 00 00 00 E8 03 00 00 E8 03 00 00 E8 03 00 00 01 3F 26 00",
			size: 28,
			check: func(t *testing.T, recs []Record) {
				assert.Len(t, recs, 1)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, DecodeRecordsSized(fromHex(t, tt.data), tt.size, nil))
		})
	}
}

func TestRecordKey(t *testing.T) {
	dc1 := Record{LRI: DcMsWatt, Class: 1}
	dc2 := Record{LRI: DcMsWatt, Class: 2}
	ac := Record{LRI: GridMsTotW, Class: 1}

	assert.NotEqual(t, dc1.Key(), dc2.Key())
	assert.Equal(t, "DcMsWatt_2", dc2.Key().String())
	assert.Equal(t, Key{LRI: GridMsTotW}, ac.Key())
	assert.Equal(t, "GridMsTotW", ac.Key().String())
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   uint32
		want string
	}{
		{0x12097A04, "12.09.122.R"},
		{0x01020300, "01.02.03.N"},
		{0x02300A05, "02.30.10.S"},
		{0x03100107, "03.10.01.7"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatVersion(tt.in))
		})
	}
}

func TestLookupLRI(t *testing.T) {
	tests := []struct {
		name  string
		code  uint32
		want  LRI
		found bool
	}{
		{"带类型与 class", 0x10821E01, NameplateLocation, true},
		{"计数器", 0x00260101, MeteringTotWhOut, true},
		{"直流组串 2", 0x40251E02, DcMsWatt, true},
		{"未知", 0x00123401, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := LookupLRI(tt.code)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, l)
		})
	}
	assert.Equal(t, "LRI(0x123400)", LRI(0x123400).String())
	assert.Equal(t, UnitKWh, MeteringTotWhOut.Unit())
}

func TestMetricByName(t *testing.T) {
	m, ok := MetricByName("SpotACTotalPower")
	require.True(t, ok)
	assert.Equal(t, uint32(0x51000200), m.Command)

	_, ok = MetricByName("nope")
	assert.False(t, ok)
}
