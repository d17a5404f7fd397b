package link

import (
	"fmt"

	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// TransmitterInputs are the signals the header transmitter consumes in
// one tick.
type TransmitterInputs struct {
	Listen   bool // flow control commands are accepted
	Active   bool // link is in U0
	USBReset bool

	Command  CommandDetection // link command received from the partner
	LRTYSent bool             // our LRTY has been transmitted
	Accepted bool             // the offered word was taken downstream
}

// TransmitterOutputs are the signals the header transmitter produces.
type TransmitterOutputs struct {
	RetryRequired    bool // an LRTY must be sent before resending
	RetryReceived    bool // the partner sent LRTY
	LGOUReceived     bool // the partner requested a low power state
	RecoveryRequired bool
	Fault            pkg.FaultKind
	PacketSent       bool
	Retired          int // packets acknowledged this tick
	BringupComplete  bool
}

// HeaderTransmitter sends header packets under credit flow control and
// resends unacknowledged packets after LBAD (USB 3.2 Spec Section
// 7.2.4.1).
//
// Packets occupy a fixed ring from ackPtr to writePtr. Those from ackPtr
// to readPtr have been sent and await LGOOD; those from readPtr onward
// wait to be sent. After the link recovers, every unacknowledged packet
// is requeued and must be matched by a fresh credit before it is resent.
type HeaderTransmitter struct {
	pendingTimeout uint64

	slots    [HeaderBufferCount]HeaderPacket
	payloads [HeaderBufferCount][]symbol.Word // framed DPP following a data header
	writePtr int
	readPtr  int
	ackPtr   int
	inUse    int // packets not yet acknowledged
	toSend   int // eligible packets from readPtr not yet sent
	awaiting int // sent packets not yet acknowledged
	requeued int // packets waiting for a credit after recovery

	credits        int
	creditsGranted int // LCRDs received since listening began
	nextCredit     uint8
	nextAck        uint8
	txSeq          uint8
	synced         bool
	bringup        bool

	retryPending bool // rewind at the next packet boundary
	awaitingLRTY bool
	delayed      int // resent packets still to be marked delayed

	frame   []symbol.Word
	frameAt int
	sending bool

	sinceRetire uint64
}

// NewHeaderTransmitter creates a transmitter in its post-reset state.
func NewHeaderTransmitter(cfg Config) *HeaderTransmitter {
	t := &HeaderTransmitter{
		pendingTimeout: cfg.Ticks(cfg.PendingHeaderTimeout),
		frame:          make([]symbol.Word, 0, headerWords),
	}
	t.usbReset()
	return t
}

// CanSend reports whether Enqueue would accept a packet.
func (t *HeaderTransmitter) CanSend() bool {
	return t.bringup && t.credits > 0 && t.requeued == 0
}

// Credits returns the credits currently held.
func (t *HeaderTransmitter) Credits() int {
	return t.credits
}

// Outstanding returns the number of packets not yet acknowledged.
func (t *HeaderTransmitter) Outstanding() int {
	return t.inUse
}

// BringupComplete reports whether the partner has advertised all of its
// header buffers.
func (t *HeaderTransmitter) BringupComplete() bool {
	return t.bringup
}

// Enqueue accepts a packet for transmission, consuming one credit.
// The sequence number is assigned when the packet is sent.
func (t *HeaderTransmitter) Enqueue(hp HeaderPacket) error {
	if err := t.admit(); err != nil {
		return err
	}
	t.payloads[t.writePtr] = t.payloads[t.writePtr][:0]
	t.push(hp)
	return nil
}

// EnqueueData accepts a data packet header and its payload. The header's
// type and data length fields are set from the payload. Both travel as one
// framed unit under a single credit and are resent together after LBAD.
func (t *HeaderTransmitter) EnqueueData(hp HeaderPacket, payload []byte) error {
	if len(payload) > MaxDataPayload {
		return fmt.Errorf("data payload of %d bytes: %w", len(payload), pkg.ErrInvalidParameter)
	}
	if err := t.admit(); err != nil {
		return err
	}
	i := t.writePtr
	t.payloads[i] = EncodeDataPayload(t.payloads[i][:0], payload)
	t.push(hp.WithType(PacketTypeData).WithDataLength(len(payload)))
	return nil
}

func (t *HeaderTransmitter) admit() error {
	if !t.bringup {
		return pkg.ErrLinkNotReady
	}
	if t.credits == 0 || t.requeued > 0 {
		return pkg.ErrNoCredit
	}
	return nil
}

func (t *HeaderTransmitter) push(hp HeaderPacket) {
	t.credits--
	t.slots[t.writePtr] = hp
	t.writePtr = (t.writePtr + 1) % HeaderBufferCount
	t.inUse++
	t.toSend++
}

// Offer returns the word currently presented downstream.
func (t *HeaderTransmitter) Offer() (symbol.Word, bool) {
	if !t.sending {
		return symbol.Word{}, false
	}
	return t.frame[t.frameAt], true
}

// Tick advances the transmitter by one tick.
func (t *HeaderTransmitter) Tick(in TransmitterInputs) TransmitterOutputs {
	var out TransmitterOutputs
	if in.USBReset {
		t.usbReset()
	}
	if !in.Listen {
		t.disable()
		return out
	}

	if t.sending && in.Accepted {
		t.frameAt++
		if t.frameAt == len(t.frame) {
			t.sent()
			out.PacketSent = true
		}
	}
	if !in.Active {
		t.sending = false
	}

	if in.Command.Detected {
		t.command(in.Command.Command, &out)
	}
	if in.LRTYSent {
		t.awaitingLRTY = false
	}
	if t.retryPending && !t.sending {
		t.rewind()
		out.RetryRequired = true
	}

	if in.Active && t.awaiting > 0 && out.Retired == 0 {
		t.sinceRetire++
		if t.sinceRetire >= t.pendingTimeout {
			t.sinceRetire = 0
			t.fault(&out, pkg.FaultSequencing, "header acknowledgement timeout")
		}
	} else if t.awaiting == 0 {
		t.sinceRetire = 0
	}

	if in.Active && !t.sending && t.toSend > 0 && !t.awaitingLRTY && !t.retryPending {
		t.load()
	}

	out.BringupComplete = t.bringup
	return out
}

// command applies one received link command.
func (t *HeaderTransmitter) command(c Command, out *TransmitterOutputs) {
	switch c.Command {
	case LGOOD:
		t.lgood(c.Subtype&MaxSequenceNumber, out)
	case LCRD:
		t.lcrd(c.Subtype, out)
	case LBAD:
		pkg.LogDebug(pkg.ComponentHeader, "LBAD received", "outstanding", t.awaiting)
		t.retryPending = true
	case LRTY:
		out.RetryReceived = true
	case LGOU:
		out.LGOUReceived = true
	}
}

func (t *HeaderTransmitter) lgood(seq uint8, out *TransmitterOutputs) {
	if !t.synced {
		// The first LGOOD advertises the last sequence number the
		// partner accepted. Requeued packets it already holds are retired.
		t.synced = true
		n := int((seq + 1 - t.nextAck) & MaxSequenceNumber)
		if n > t.requeued {
			n = t.requeued
		}
		for i := 0; i < n; i++ {
			t.ackPtr = (t.ackPtr + 1) % HeaderBufferCount
			t.inUse--
			t.requeued--
		}
		t.readPtr = t.ackPtr
		t.nextAck = (seq + 1) & MaxSequenceNumber
		t.txSeq = t.nextAck
		out.Retired += n
		return
	}
	if seq != t.nextAck || t.awaiting == 0 {
		t.fault(out, pkg.FaultSequencing, fmt.Sprintf("unexpected LGOOD_%d, want LGOOD_%d", seq, t.nextAck))
		return
	}
	t.ackPtr = (t.ackPtr + 1) % HeaderBufferCount
	t.inUse--
	t.awaiting--
	t.nextAck = (t.nextAck + 1) & MaxSequenceNumber
	t.sinceRetire = 0
	out.Retired++
}

func (t *HeaderTransmitter) lcrd(index uint8, out *TransmitterOutputs) {
	if index != t.nextCredit {
		t.fault(out, pkg.FaultCredit, fmt.Sprintf("unexpected LCRD index %d, want %d", index, t.nextCredit))
		return
	}
	if t.credits+t.inUse >= HeaderBufferCount && t.requeued == 0 {
		t.fault(out, pkg.FaultCredit, "credit beyond header buffer count")
		return
	}
	t.nextCredit = (t.nextCredit + 1) % HeaderBufferCount
	if t.requeued > 0 {
		t.requeued--
		t.toSend++
	} else {
		t.credits++
	}
	if t.creditsGranted < HeaderBufferCount {
		t.creditsGranted++
		if t.creditsGranted == HeaderBufferCount {
			t.bringup = true
			pkg.LogDebug(pkg.ComponentHeader, "header credits advertised", "credits", t.credits)
		}
	}
}

// rewind restarts transmission from the oldest unacknowledged packet.
func (t *HeaderTransmitter) rewind() {
	t.retryPending = false
	t.awaitingLRTY = true
	t.readPtr = t.ackPtr
	t.toSend += t.awaiting
	t.delayed = t.awaiting
	t.awaiting = 0
	t.txSeq = t.nextAck
}

// load frames the packet at readPtr for sending.
func (t *HeaderTransmitter) load() {
	hp := t.slots[t.readPtr].WithSequence(t.txSeq, t.delayed > 0)
	words := hp.Words()
	t.frame = append(t.frame[:0], words[:]...)
	if dpp := t.payloads[t.readPtr]; len(dpp) > 0 {
		t.frame[len(t.frame)-1].Last = false
		t.frame = append(t.frame, dpp...)
	}
	t.frameAt = 0
	t.sending = true
}

// sent records that the framed packet was fully accepted downstream.
func (t *HeaderTransmitter) sent() {
	t.sending = false
	t.readPtr = (t.readPtr + 1) % HeaderBufferCount
	t.toSend--
	t.awaiting++
	t.txSeq = (t.txSeq + 1) & MaxSequenceNumber
	if t.delayed > 0 {
		t.delayed--
	}
}

func (t *HeaderTransmitter) fault(out *TransmitterOutputs, kind pkg.FaultKind, msg string) {
	pkg.LogWarn(pkg.ComponentHeader, msg, "fault", kind.String())
	out.RecoveryRequired = true
	out.Fault = kind
}

// disable drops flow control state while the link is not listening.
// Unacknowledged packets are kept and requeued.
func (t *HeaderTransmitter) disable() {
	t.readPtr = t.ackPtr
	t.requeued = t.inUse
	t.toSend = 0
	t.awaiting = 0
	t.credits = 0
	t.creditsGranted = 0
	t.nextCredit = 0
	t.synced = false
	t.bringup = false
	t.retryPending = false
	t.awaitingLRTY = false
	t.delayed = 0
	t.sending = false
	t.sinceRetire = 0
}

// usbReset discards every packet and restarts sequence numbering.
func (t *HeaderTransmitter) usbReset() {
	t.writePtr = 0
	t.ackPtr = 0
	t.inUse = 0
	t.nextAck = MaxSequenceNumber
	t.txSeq = 0
	t.disable()
}
