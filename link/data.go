package link

import (
	"encoding/binary"

	"github.com/ardnew/softusb3/crc"
	"github.com/ardnew/softusb3/symbol"
)

// MaxDataPayload is the largest data packet payload in bytes
// (USB 3.2 Spec Section 8.6).
const MaxDataPayload = 1024

// packer accumulates symbols into words.
type packer struct {
	out  []symbol.Word
	cur  symbol.Word
	fill int
}

func (p *packer) put(s symbol.Symbol, ctrl bool) {
	p.cur.Data |= uint32(s) << (8 * p.fill)
	if ctrl {
		p.cur.Ctrl |= 1 << p.fill
	}
	p.fill++
	if p.fill == symbol.BytesPerWord {
		p.out = append(p.out, p.cur)
		p.cur = symbol.Word{}
		p.fill = 0
	}
}

func (p *packer) putWord(w symbol.Word) {
	for i := 0; i < symbol.BytesPerWord; i++ {
		p.put(w.Byte(i), w.IsControl(i))
	}
}

// flush pads a partial word with logical idle.
func (p *packer) flush() {
	for p.fill != 0 {
		p.put(symbol.IDL, false)
	}
}

// EncodeDataPayload appends a framed data packet payload to out:
// DPPSTART, the payload, its CRC-32 and DPPEND. The final word is padded
// with logical idle.
func EncodeDataPayload(out []symbol.Word, payload []byte) []symbol.Word {
	p := packer{out: out}
	start := len(out)

	state := crc.CRC32Init()
	p.putWord(symbol.DataStart)
	for i := 0; i < len(payload); i += symbol.BytesPerWord {
		var b [symbol.BytesPerWord]byte
		n := copy(b[:], payload[i:])
		state = crc.CRC32Update(state, binary.LittleEndian.Uint32(b[:]), n)
		for _, c := range b[:n] {
			p.put(symbol.Symbol(c), false)
		}
	}
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.CRC32Finalize(state))
	for _, c := range sum {
		p.put(symbol.Symbol(c), false)
	}
	p.putWord(symbol.DataEnd)
	p.flush()

	p.out[start].First = true
	p.out[len(p.out)-1].Last = true
	return p.out
}

// DataPayloadResult is the outcome of one DataPayloadReceiver step.
type DataPayloadResult struct {
	Payload  []byte // valid when Complete is set, owned by the caller
	Complete bool   // a payload ended and its CRC-32 matched
	Bad      bool   // a payload ended with a CRC mismatch, was aborted or overflowed
}

// DataPayloadReceiver deframes data packet payloads and checks their
// CRC-32 as the bytes arrive.
type DataPayloadReceiver struct {
	active  bool
	payload []byte
	tail    [4]byte // last four data bytes, not yet known to be payload
	tailLen int
	state   uint32
	ends    int // consecutive END or EDB symbols
	abort   bool
}

// Tick consumes one received word.
func (r *DataPayloadReceiver) Tick(w symbol.Word) DataPayloadResult {
	if w.Matches(symbol.DataStart) {
		r.start()
		return DataPayloadResult{}
	}
	if !r.active {
		return DataPayloadResult{}
	}
	for i := 0; i < symbol.BytesPerWord; i++ {
		if res, done := r.symbol(w.Byte(i), w.IsControl(i)); done {
			return res
		}
	}
	return DataPayloadResult{}
}

func (r *DataPayloadReceiver) start() {
	r.active = true
	r.payload = r.payload[:0]
	r.tailLen = 0
	r.state = crc.CRC32Init()
	r.ends = 0
	r.abort = false
}

func (r *DataPayloadReceiver) symbol(s symbol.Symbol, ctrl bool) (DataPayloadResult, bool) {
	if !ctrl {
		if r.ends > 0 {
			return r.fail()
		}
		if r.tailLen == len(r.tail) {
			b := r.tail[0]
			copy(r.tail[:], r.tail[1:])
			r.tailLen--
			if len(r.payload) == MaxDataPayload {
				return r.fail()
			}
			r.payload = append(r.payload, b)
			r.state = crc.CRC32Update(r.state, uint32(b), 1)
		}
		r.tail[r.tailLen] = byte(s)
		r.tailLen++
		return DataPayloadResult{}, false
	}
	switch s {
	case symbol.END, symbol.EDB:
		r.abort = r.abort || s == symbol.EDB
		r.ends++
		if r.ends > 3 {
			return r.fail()
		}
		return DataPayloadResult{}, false
	case symbol.EPF:
		if r.ends != 3 || r.abort || r.tailLen != len(r.tail) {
			return r.fail()
		}
		r.active = false
		if binary.LittleEndian.Uint32(r.tail[:]) != crc.CRC32Finalize(r.state) {
			return DataPayloadResult{Bad: true}, true
		}
		out := make([]byte, len(r.payload))
		copy(out, r.payload)
		return DataPayloadResult{Payload: out, Complete: true}, true
	default:
		return r.fail()
	}
}

func (r *DataPayloadReceiver) fail() (DataPayloadResult, bool) {
	r.active = false
	return DataPayloadResult{Bad: true}, true
}

// DataPacket is a received data packet header and its payload.
type DataPacket struct {
	Header  HeaderPacket
	Payload []byte
}

// dataEvent is the outcome of one dataCollector step.
type dataEvent int

const (
	dataNone dataEvent = iota
	dataReceived
	dataBad
	dataDropped
)

// dataCollector pairs payloads deframed from the receive stream with the
// data packet header that announced them. A payload is kept only when it
// directly follows a header that was buffered and its length matches.
type dataCollector struct {
	deframer DataPayloadReceiver
	header   HeaderPacket
	expected bool
	queue    []DataPacket
}

// tick consumes one received word. rx is the header receiver outputs
// registered on the previous tick.
func (c *dataCollector) tick(w symbol.Word, rx ReceiverOutputs) dataEvent {
	if rx.NewPacket || rx.BadPacket || rx.BadSequence {
		c.expected = rx.Stored && rx.Packet.Type() == PacketTypeData
		c.header = rx.Packet
	}
	res := c.deframer.Tick(w)
	if !res.Complete && !res.Bad {
		return dataNone
	}
	expected := c.expected
	c.expected = false
	switch {
	case !expected:
		return dataNone
	case res.Bad || len(res.Payload) != c.header.DataLength():
		return dataBad
	case len(c.queue) == HeaderBufferCount:
		return dataDropped
	}
	c.queue = append(c.queue, DataPacket{Header: c.header, Payload: res.Payload})
	return dataReceived
}

func (c *dataCollector) dequeue() (DataPacket, bool) {
	if len(c.queue) == 0 {
		return DataPacket{}, false
	}
	dp := c.queue[0]
	copy(c.queue, c.queue[1:])
	c.queue[len(c.queue)-1] = DataPacket{}
	c.queue = c.queue[:len(c.queue)-1]
	return dp, true
}

// reset abandons any payload in progress. Queued packets are kept.
func (c *dataCollector) reset() {
	c.deframer.active = false
	c.expected = false
}
