package link

import (
	"github.com/ardnew/softusb3/crc"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// RawHeaderResult is the outcome of one RawHeaderReceiver step.
type RawHeaderResult struct {
	Packet      HeaderPacket
	NewPacket   bool // CRCs pass and the sequence number is expected
	BadPacket   bool // a CRC failed
	BadSequence bool // CRCs pass but the sequence number is not expected
}

// RawHeaderReceiver deframes header packets from the receive stream and
// checks them against the expected sequence number. It does not advance
// the sequence number itself.
type RawHeaderReceiver struct {
	ExpectedSequence uint8

	words  int // header words collected after HPSTART, 0 when idle
	armed  bool
	packet HeaderPacket
	crc16  uint16
}

// Reset abandons any packet in progress.
func (r *RawHeaderReceiver) Reset() {
	r.armed = false
	r.words = 0
}

// Tick consumes one received word.
func (r *RawHeaderReceiver) Tick(w symbol.Word) RawHeaderResult {
	if w.Matches(symbol.HeaderStart) {
		r.armed = true
		r.words = 0
		r.crc16 = crc.CRC16Init()
		return RawHeaderResult{}
	}
	if !r.armed {
		return RawHeaderResult{}
	}
	if w.HasControl() {
		r.Reset()
		return RawHeaderResult{BadPacket: true}
	}

	switch r.words {
	case 0:
		r.packet.DW0 = w.Data
	case 1:
		r.packet.DW1 = w.Data
	case 2:
		r.packet.DW2 = w.Data
	case 3:
		r.packet.SetDW3(w.Data)
	}
	if r.words < 3 {
		r.crc16 = crc.CRC16Update(r.crc16, w.Data)
		r.words++
		return RawHeaderResult{}
	}
	r.Reset()

	res := RawHeaderResult{Packet: r.packet}
	switch {
	case !r.packet.CRC5Valid() || crc.CRC16Finalize(r.crc16) != r.packet.CRC16:
		res.BadPacket = true
	case r.packet.SequenceNumber != r.ExpectedSequence:
		res.BadSequence = true
	default:
		res.NewPacket = true
	}
	return res
}

// AdvanceSequence moves to the next expected sequence number.
func (r *RawHeaderReceiver) AdvanceSequence() {
	r.ExpectedSequence = (r.ExpectedSequence + 1) & MaxSequenceNumber
}

// ReceiverInputs are the signals the header receiver consumes in one tick.
type ReceiverInputs struct {
	Listen   bool
	Active   bool
	USBReset bool

	Word              symbol.Word
	RetryRequired     bool // our transmitter needs an LRTY sent
	RetryReceived     bool // the partner sent LRTY
	LGOUReceived      bool // reject with LXU
	KeepaliveRequired bool
	Accepted          bool
}

// ReceiverOutputs are the signals the header receiver produces.
type ReceiverOutputs struct {
	NewPacket        bool
	BadPacket        bool
	BadSequence      bool
	Stored           bool         // a new packet was buffered
	Packet           HeaderPacket // the buffered packet, valid with Stored
	RecoveryRequired bool
	Fault            pkg.FaultKind
	CommandSent      bool
	Sent             Command
	LRTYSent         bool
}

// HeaderReceiver accepts header packets into a fixed ring of buffers and
// drives the link commands that acknowledge them, return credits and
// request retries (USB 3.2 Spec Section 7.2.4.1).
type HeaderReceiver struct {
	downstream bool
	raw        RawHeaderReceiver
	gen        CommandGenerator

	slots    [HeaderBufferCount]HeaderPacket
	writePtr int
	readPtr  int
	filled   int

	acksToSend     int
	nextAck        uint8
	creditsToIssue int
	nextCredit     uint8

	lrtyPending      bool
	lbadPending      bool
	lxuPending       bool
	keepalivePending bool
	ignorePackets    bool
}

// NewHeaderReceiver creates a receiver in its post-reset state.
func NewHeaderReceiver(cfg Config) *HeaderReceiver {
	r := &HeaderReceiver{downstream: cfg.DownstreamFacing}
	r.usbReset()
	return r
}

// Pending returns the number of received packets waiting to be consumed.
func (r *HeaderReceiver) Pending() int {
	return r.filled
}

// ExpectedSequence returns the sequence number of the next packet.
func (r *HeaderReceiver) ExpectedSequence() uint8 {
	return r.raw.ExpectedSequence
}

// Dequeue removes the oldest received packet, freeing its buffer and
// scheduling an LCRD for it.
func (r *HeaderReceiver) Dequeue() (HeaderPacket, bool) {
	if r.filled == 0 {
		return HeaderPacket{}, false
	}
	hp := r.slots[r.readPtr]
	r.readPtr = (r.readPtr + 1) % HeaderBufferCount
	r.filled--
	r.creditsToIssue++
	return hp, true
}

// Offer returns the word currently presented downstream.
func (r *HeaderReceiver) Offer() (symbol.Word, bool) {
	return r.gen.Offer()
}

// Tick advances the receiver by one tick.
func (r *HeaderReceiver) Tick(in ReceiverInputs) ReceiverOutputs {
	var out ReceiverOutputs
	if in.USBReset {
		r.usbReset()
	}
	if !in.Listen {
		r.disable()
		return out
	}

	if r.gen.Busy() && in.Accepted && r.gen.Accept() {
		out.CommandSent = true
		out.Sent = r.gen.Current()
		if out.Sent.Command == LRTY {
			out.LRTYSent = true
		}
	}
	if !in.Active {
		r.gen.Reset()
	}

	res := r.raw.Tick(in.Word)
	out.NewPacket = res.NewPacket
	out.BadPacket = res.BadPacket
	out.BadSequence = res.BadSequence
	switch {
	case r.ignorePackets:
	case res.NewPacket:
		r.accept(res.Packet, &out)
	case res.BadPacket:
		pkg.LogDebug(pkg.ComponentHeader, "bad header packet", "packet", res.Packet.String())
		r.lbadPending = true
		r.ignorePackets = true
	case res.BadSequence:
		pkg.LogWarn(pkg.ComponentHeader, "header sequence mismatch",
			"got", res.Packet.SequenceNumber, "want", r.raw.ExpectedSequence)
		out.RecoveryRequired = true
		out.Fault = pkg.FaultSequencing
	}

	if in.RetryReceived {
		r.ignorePackets = false
	}
	if in.RetryRequired {
		r.lrtyPending = true
	}
	if in.LGOUReceived {
		r.lxuPending = true
	}
	if in.KeepaliveRequired {
		r.keepalivePending = true
	}

	if in.Active && !r.gen.Busy() {
		r.dispatch()
	}
	return out
}

func (r *HeaderReceiver) accept(hp HeaderPacket, out *ReceiverOutputs) {
	if r.filled == HeaderBufferCount {
		pkg.LogWarn(pkg.ComponentHeader, "header received with no free buffer")
		out.RecoveryRequired = true
		out.Fault = pkg.FaultOverflow
		return
	}
	r.slots[r.writePtr] = hp
	r.writePtr = (r.writePtr + 1) % HeaderBufferCount
	r.filled++
	r.acksToSend++
	out.Stored = true
	out.Packet = hp
	r.raw.AdvanceSequence()
}

// dispatch starts the highest priority pending link command:
// LRTY, LGOOD, LCRD, LBAD, LXU, then keepalive.
func (r *HeaderReceiver) dispatch() {
	switch {
	case r.lrtyPending:
		r.lrtyPending = false
		r.gen.Generate(Command{Command: LRTY})
	case r.acksToSend > 0:
		r.acksToSend--
		r.gen.Generate(Command{Command: LGOOD, Subtype: r.nextAck})
		r.nextAck = (r.nextAck + 1) & MaxSequenceNumber
	case r.creditsToIssue > 0:
		r.creditsToIssue--
		r.gen.Generate(Command{Command: LCRD, Subtype: r.nextCredit})
		r.nextCredit = (r.nextCredit + 1) % HeaderBufferCount
	case r.lbadPending:
		r.lbadPending = false
		r.gen.Generate(Command{Command: LBAD})
	case r.lxuPending:
		r.lxuPending = false
		r.gen.Generate(Command{Command: LXU})
	case r.keepalivePending:
		r.keepalivePending = false
		if r.downstream {
			r.gen.Generate(Command{Command: LDN})
		} else {
			r.gen.Generate(Command{Command: LUP})
		}
	}
}

// disable clears buffers and re-arms the sequence advertisement: the
// first LGOOD after the link returns repeats the last accepted sequence
// number, followed by a credit for every buffer.
func (r *HeaderReceiver) disable() {
	r.raw.Reset()
	r.gen.Reset()
	r.writePtr = 0
	r.readPtr = 0
	r.filled = 0
	r.acksToSend = 1
	r.nextAck = (r.raw.ExpectedSequence - 1) & MaxSequenceNumber
	r.creditsToIssue = HeaderBufferCount
	r.nextCredit = 0
	r.lrtyPending = false
	r.lbadPending = false
	r.lxuPending = false
	r.keepalivePending = false
	r.ignorePackets = false
}

// usbReset restarts sequence numbering at zero.
func (r *HeaderReceiver) usbReset() {
	r.raw.ExpectedSequence = 0
	r.disable()
}
