package sma

import "github.com/sigurn/crc16"

// PPP FCS-16 与 CRC-16/X-25 参数一致（init 0xFFFF，反射，xorout 0xFFFF）
var fcsTable = crc16.MakeTable(crc16.CRC16_X_25)

// FCSInit 返回累加器初值
func FCSInit() uint16 {
	return crc16.Init(fcsTable)
}

// FCSUpdate 累加数据
func FCSUpdate(acc uint16, data []byte) uint16 {
	return crc16.Update(acc, data, fcsTable)
}

// FCSFinal 结束计算，得到线上 FCS
func FCSFinal(acc uint16) uint16 {
	return crc16.Complete(acc, fcsTable)
}

// FCS 一次性计算
func FCS(data []byte) uint16 {
	return crc16.Checksum(data, fcsTable)
}
