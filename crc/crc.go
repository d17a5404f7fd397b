package crc

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sigurn/crc16"
)

// CRC5 parameters (USB 3.2 Spec Section 7.2.4.1.1).
const (
	crc5Init    = 0x1F
	crc5Poly    = 0x14 // x^5 + x^2 + 1, bit-reversed
	crc5Residue = 0x1F
	crc5Bits    = 11
)

// CRC5 returns the USB CRC-5 of the low 11 bits of v.
// Bits are consumed least significant first.
func CRC5(v uint16) uint8 {
	c := uint8(crc5Init)
	for i := 0; i < crc5Bits; i++ {
		fb := (c ^ uint8(v>>i)) & 1
		c >>= 1
		if fb != 0 {
			c ^= crc5Poly
		}
	}
	return c ^ crc5Residue
}

// CheckCRC5 reports whether crc is the CRC-5 of the low 11 bits of v.
func CheckCRC5(v uint16, crc uint8) bool {
	return CRC5(v) == crc&0x1F
}

// headerParams is the USB3 header packet CRC-16
// (USB 3.2 Spec Section 7.2.1.1.1).
var headerParams = crc16.Params{
	Poly:   0x100B,
	Init:   0xFFFF,
	RefIn:  true,
	RefOut: true,
	XorOut: 0xFFFF,
	Check:  0x0A3D,
	Name:   "CRC-16/USB3-HEADER",
}

var headerTable = crc16.MakeTable(headerParams)

// CRC16Init returns the running CRC-16 state at the start of a header.
func CRC16Init() uint16 {
	return crc16.Init(headerTable)
}

// CRC16Update advances the running CRC-16 by one 32-bit header word.
func CRC16Update(state uint16, word uint32) uint16 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return crc16.Update(state, b[:], headerTable)
}

// CRC16Finalize converts a running CRC-16 state to the transmitted value.
func CRC16Finalize(state uint16) uint16 {
	return crc16.Complete(state, headerTable)
}

// HeaderCRC16 returns the CRC-16 of the three header payload words.
func HeaderCRC16(dw0, dw1, dw2 uint32) uint16 {
	state := CRC16Init()
	state = CRC16Update(state, dw0)
	state = CRC16Update(state, dw1)
	state = CRC16Update(state, dw2)
	return CRC16Finalize(state)
}

// CRC32Init returns the running CRC-32 state at the start of a payload.
func CRC32Init() uint32 {
	return 0
}

// CRC32Update advances the running CRC-32 over the first n bytes of word,
// least significant byte first. n is clamped to 0..4; a partial word is
// only valid as the last word of a payload.
func CRC32Update(state uint32, word uint32, n int) uint32 {
	if n <= 0 {
		return state
	}
	if n > 4 {
		n = 4
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return crc32.Update(state, crc32.IEEETable, b[:n])
}

// CRC32Finalize converts a running CRC-32 state to the transmitted value.
func CRC32Finalize(state uint32) uint32 {
	return state
}

// PayloadCRC32 returns the CRC-32 of a complete data packet payload.
func PayloadCRC32(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
