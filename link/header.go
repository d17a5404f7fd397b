package link

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softusb3/crc"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// PacketType is the 5-bit type field in the first header word
// (USB 3.2 Spec Table 8-1).
type PacketType uint8

// Header packet types.
const (
	PacketTypeLinkManagement  PacketType = 0x00 // LMP
	PacketTypeTransaction     PacketType = 0x04 // TP
	PacketTypeData            PacketType = 0x08 // DP header
	PacketTypeIsochronousTime PacketType = 0x0C // ITP
)

// String returns the packet type mnemonic.
func (t PacketType) String() string {
	switch t {
	case PacketTypeLinkManagement:
		return "LMP"
	case PacketTypeTransaction:
		return "TP"
	case PacketTypeData:
		return "DP"
	case PacketTypeIsochronousTime:
		return "ITP"
	default:
		return fmt.Sprintf("type(0x%02X)", uint8(t))
	}
}

// HeaderPacketSize is the size of a header packet in bytes.
const HeaderPacketSize = 16

// headerWords is the number of symbol words in a framed header packet:
// HPSTART followed by four header words.
const headerWords = 5

// DW3 bit layout (USB 3.2 Spec Figure 7-5).
const (
	dw3SequenceShift = 16
	dw3ReservedShift = 19
	dw3HubDepthShift = 22
	dw3DelayedBit    = 25
	dw3DeferredBit   = 26
	dw3CRC5Shift     = 27
)

// MaxSequenceNumber is the largest header sequence number.
const MaxSequenceNumber = 7

// HeaderPacket is a 16-byte header packet.
// DW0 through DW2 belong to the protocol layer; the link layer owns the
// fields decomposed from DW3.
type HeaderPacket struct {
	DW0, DW1, DW2 uint32

	CRC16          uint16 // over DW0..DW2
	SequenceNumber uint8  // 0..7
	Reserved       uint8  // 3 bits
	HubDepth       uint8  // 3 bits
	Delayed        bool   // resent after LBAD
	Deferred       bool   // deferred by a hub
	CRC5           uint8  // over the link control word
}

// Type returns the packet type encoded in the low 5 bits of DW0.
func (h HeaderPacket) Type() PacketType {
	return PacketType(h.DW0 & 0x1F)
}

// WithType returns a copy of the packet with the type field set.
func (h HeaderPacket) WithType(t PacketType) HeaderPacket {
	h.DW0 = h.DW0&^0x1F | uint32(t)&0x1F
	return h
}

// dataLengthShift positions the payload length in DW1 of a data packet
// header.
const dataLengthShift = 16

// DataLength returns the payload length announced by a data packet header.
func (h HeaderPacket) DataLength() int {
	return int(h.DW1 >> dataLengthShift)
}

// WithDataLength returns a copy of the packet announcing an n byte payload.
func (h HeaderPacket) WithDataLength(n int) HeaderPacket {
	h.DW1 = h.DW1&(1<<dataLengthShift-1) | uint32(n)<<dataLengthShift
	return h
}

// LinkControlWord returns the 11 bits of DW3 protected by CRC5.
func (h HeaderPacket) LinkControlWord() uint16 {
	w := uint16(h.SequenceNumber & 0x7)
	w |= uint16(h.Reserved&0x7) << (dw3ReservedShift - dw3SequenceShift)
	w |= uint16(h.HubDepth&0x7) << (dw3HubDepthShift - dw3SequenceShift)
	if h.Delayed {
		w |= 1 << (dw3DelayedBit - dw3SequenceShift)
	}
	if h.Deferred {
		w |= 1 << (dw3DeferredBit - dw3SequenceShift)
	}
	return w
}

// DW3 returns the fourth header word as transmitted.
func (h HeaderPacket) DW3() uint32 {
	return uint32(h.CRC16) |
		uint32(h.LinkControlWord())<<dw3SequenceShift |
		uint32(h.CRC5&0x1F)<<dw3CRC5Shift
}

// SetDW3 decomposes a received fourth header word.
func (h *HeaderPacket) SetDW3(dw3 uint32) {
	h.CRC16 = uint16(dw3)
	h.SequenceNumber = uint8(dw3>>dw3SequenceShift) & 0x7
	h.Reserved = uint8(dw3>>dw3ReservedShift) & 0x7
	h.HubDepth = uint8(dw3>>dw3HubDepthShift) & 0x7
	h.Delayed = dw3&(1<<dw3DelayedBit) != 0
	h.Deferred = dw3&(1<<dw3DeferredBit) != 0
	h.CRC5 = uint8(dw3>>dw3CRC5Shift) & 0x1F
}

// Sealed returns a copy of the packet with both CRC fields computed.
func (h HeaderPacket) Sealed() HeaderPacket {
	h.CRC16 = crc.HeaderCRC16(h.DW0, h.DW1, h.DW2)
	h.CRC5 = crc.CRC5(h.LinkControlWord())
	return h
}

// WithSequence returns a sealed copy carrying the given sequence number
// and delayed flag.
func (h HeaderPacket) WithSequence(seq uint8, delayed bool) HeaderPacket {
	h.SequenceNumber = seq & MaxSequenceNumber
	h.Delayed = delayed
	return h.Sealed()
}

// CRC16Valid reports whether the CRC-16 field matches DW0..DW2.
func (h HeaderPacket) CRC16Valid() bool {
	return crc.HeaderCRC16(h.DW0, h.DW1, h.DW2) == h.CRC16
}

// CRC5Valid reports whether the CRC-5 field matches the link control word.
func (h HeaderPacket) CRC5Valid() bool {
	return crc.CheckCRC5(h.LinkControlWord(), h.CRC5)
}

// Valid reports whether both CRC fields are correct.
func (h HeaderPacket) Valid() bool {
	return h.CRC5Valid() && h.CRC16Valid()
}

// Words returns the framed header as transmitted: HPSTART then DW0..DW3.
func (h HeaderPacket) Words() [headerWords]symbol.Word {
	return [headerWords]symbol.Word{
		symbol.HeaderStart.Framed(true, false),
		{Data: h.DW0},
		{Data: h.DW1},
		{Data: h.DW2},
		{Data: h.DW3(), Last: true},
	}
}

// ParseHeaderPacket parses a 16-byte little-endian header into out.
// Returns an error if the data is too short.
func ParseHeaderPacket(data []byte, out *HeaderPacket) error {
	if len(data) < HeaderPacketSize {
		return pkg.ErrBufferTooSmall
	}
	out.DW0 = binary.LittleEndian.Uint32(data[0:4])
	out.DW1 = binary.LittleEndian.Uint32(data[4:8])
	out.DW2 = binary.LittleEndian.Uint32(data[8:12])
	out.SetDW3(binary.LittleEndian.Uint32(data[12:16]))
	return nil
}

// MarshalTo serializes the header packet to buf.
// Returns the number of bytes written (always 16 if buf is large enough).
func (h HeaderPacket) MarshalTo(buf []byte) int {
	if len(buf) < HeaderPacketSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], h.DW1)
	binary.LittleEndian.PutUint32(buf[8:12], h.DW2)
	binary.LittleEndian.PutUint32(buf[12:16], h.DW3())
	return HeaderPacketSize
}

// SamePayload reports whether two packets carry the same protocol layer
// content, ignoring link layer fields.
func (h HeaderPacket) SamePayload(other HeaderPacket) bool {
	return h.DW0 == other.DW0 && h.DW1 == other.DW1 && h.DW2 == other.DW2
}

// String returns a human-readable representation of the header packet.
func (h HeaderPacket) String() string {
	return fmt.Sprintf("HP[%s seq=%d] %08X %08X %08X %08X",
		h.Type(), h.SequenceNumber, h.DW0, h.DW1, h.DW2, h.DW3())
}
