package link

import (
	"fmt"
	"log/slog"

	"github.com/ardnew/softusb3/phy"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// Transmit stream sources in priority order.
const (
	sourceTSEQ = iota
	sourceTS1
	sourceTS2
	sourceCommands
	sourceHeaders
	sourceCount
)

// signals are the outputs every component registers at the end of a tick.
// Peers read them on the following tick only.
type signals struct {
	ltssm LTSSMOutputs
	tx    TransmitterOutputs
	rx    ReceiverOutputs
	cmd   CommandDetection

	tseqDetected   bool
	ts1Detected    bool
	ts1InvDetected bool
	ts2Detected    bool
	ts2Config      TrainingConfig
	tseqDone       bool
	ts2Done        bool
	idleComplete   bool

	keepalive   bool
	linkTimeout bool
}

// Stats counts link layer events.
type Stats struct {
	Ticks            uint64
	Transitions      uint64
	TrainingTimeouts uint64
	Recoveries       uint64
	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsRetired   uint64
	BadPackets       uint64
	DataReceived     uint64
	BadPayloads      uint64
	DroppedPayloads  uint64
	Retries          uint64
	CommandsSent     uint64
	CommandsReceived uint64
	FramingFaults    uint64
	LastFault        pkg.FaultKind
}

// Layer is a complete USB3 link layer: LTSSM, ordered set codec, link
// command codec, the header packet transmitter and receiver, and data
// payload framing, stepped together one symbol word per Tick.
//
// Layer is not safe for concurrent use; see Stack.
type Layer struct {
	cfg Config

	ltssm *LTSSM

	tseqDet   *OrderedSetDetector
	ts1Det    *OrderedSetDetector
	ts1InvDet *OrderedSetDetector
	ts2Det    *OrderedSetDetector
	tseq      *OrderedSetEmitter
	ts1       *OrderedSetEmitter
	ts2       *OrderedSetEmitter

	cmdDet CommandDetector
	idle   IdleHandshake
	tx     *HeaderTransmitter
	rx     *HeaderReceiver
	data   dataCollector
	timers maintenanceTimers
	arb    arbiter

	sig       signals
	warmReset bool
	stats     Stats

	onStateChange func(from, to State)
}

// NewLayer creates a link layer in Rx.Detect.Reset.
func NewLayer(cfg Config) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("link config: %w", err)
	}
	return &Layer{
		cfg:       cfg,
		ltssm:     NewLTSSM(cfg),
		tseqDet:   NewOrderedSetDetector(TSEQ, cfg.TSEQDetectThreshold, false),
		ts1Det:    NewOrderedSetDetector(TS1, cfg.TSDetectThreshold, false),
		ts1InvDet: NewOrderedSetDetector(TS1, cfg.TSDetectThreshold, true),
		ts2Det:    NewOrderedSetDetector(TS2, cfg.TSDetectThreshold, false),
		tseq:      NewOrderedSetEmitter(TSEQ, cfg.TSEQBurstLength),
		ts1:       NewOrderedSetEmitter(TS1, cfg.TS1BurstLength),
		ts2:       NewOrderedSetEmitter(TS2, cfg.TS2BurstLength),
		tx:        NewHeaderTransmitter(cfg),
		rx:        NewHeaderReceiver(cfg),
		timers:    newMaintenanceTimers(cfg),
		arb:       newArbiter(),
	}, nil
}

// Config returns the layer configuration.
func (l *Layer) Config() Config {
	return l.cfg
}

// State returns the current LTSSM state.
func (l *Layer) State() State {
	return l.ltssm.State()
}

// LinkReady reports whether the link is in U0.
func (l *Layer) LinkReady() bool {
	return l.sig.ltssm.LinkReady
}

// Ready reports whether the link is in U0 and the partner has advertised
// its header buffers.
func (l *Layer) Ready() bool {
	return l.sig.ltssm.LinkReady && l.tx.BringupComplete()
}

// CanSend reports whether Send would accept a header packet.
func (l *Layer) CanSend() bool {
	return l.sig.ltssm.LinkReady && l.tx.CanSend()
}

// Send queues a header packet for transmission. It fails with
// pkg.ErrLinkNotReady before bring-up completes and with pkg.ErrNoCredit
// while the partner has no free buffer.
func (l *Layer) Send(hp HeaderPacket) error {
	if !l.sig.ltssm.LinkReady {
		return pkg.ErrLinkNotReady
	}
	return l.tx.Enqueue(hp)
}

// SendData queues a data packet header followed by its payload. The
// header's type and data length fields are filled in. It fails like Send,
// and with pkg.ErrInvalidParameter if the payload exceeds MaxDataPayload.
func (l *Layer) SendData(hp HeaderPacket, payload []byte) error {
	if !l.sig.ltssm.LinkReady {
		return pkg.ErrLinkNotReady
	}
	return l.tx.EnqueueData(hp, payload)
}

// ReceiveData removes the oldest received data packet payload together with
// its header. The header is also delivered by Receive.
func (l *Layer) ReceiveData() (DataPacket, bool) {
	return l.data.dequeue()
}

// Receive removes the oldest received header packet, returning a credit
// to the partner.
func (l *Layer) Receive() (HeaderPacket, bool) {
	return l.rx.Dequeue()
}

// Pending returns the number of received packets waiting in Receive.
func (l *Layer) Pending() int {
	return l.rx.Pending()
}

// PendingData returns the number of received payloads waiting in
// ReceiveData.
func (l *Layer) PendingData() int {
	return len(l.data.queue)
}

// Credits returns the transmit credits currently held.
func (l *Layer) Credits() int {
	return l.tx.Credits()
}

// Outstanding returns the number of sent packets not yet acknowledged.
func (l *Layer) Outstanding() int {
	return l.tx.Outstanding()
}

// WarmReset forces the LTSSM to Rx.Detect.Reset on the next tick.
func (l *Layer) WarmReset() {
	l.warmReset = true
}

// RequestHotReset requests a hot reset in the next TS2 exchange. Both
// ends restart header sequence numbering.
func (l *Layer) RequestHotReset() {
	l.ltssm.RequestHotReset()
}

// Stats returns a snapshot of the event counters.
func (l *Layer) Stats() Stats {
	return l.stats
}

// OnStateChange registers a callback invoked from Tick after each LTSSM
// transition. The callback must not call back into the layer.
func (l *Layer) OnStateChange(fn func(from, to State)) {
	l.onStateChange = fn
}

// Tick advances every component by one symbol period. rx and st are the
// word and status received from the PHY; the returned word and control
// are sent to it.
func (l *Layer) Tick(rx symbol.Word, st phy.Status) (symbol.Word, phy.Control) {
	prev := l.sig
	var next signals

	var offers [sourceCount]offer
	offers[sourceTSEQ].word, offers[sourceTSEQ].valid = l.tseq.Offer()
	offers[sourceTS1].word, offers[sourceTS1].valid = l.ts1.Offer()
	offers[sourceTS2].word, offers[sourceTS2].valid = l.ts2.Offer()
	offers[sourceCommands].word, offers[sourceCommands].valid = l.rx.Offer()
	offers[sourceHeaders].word, offers[sourceHeaders].valid = l.tx.Offer()
	grant := l.arb.pick(offers[:])
	tx := symbol.Idle
	if grant >= 0 {
		tx = offers[grant].word
	}

	next.ltssm = l.ltssm.Tick(LTSSMInputs{
		PHYReady:              st.Ready,
		InUSBReset:            st.InUSBReset,
		WarmReset:             st.WarmReset || l.warmReset,
		LinkPartnerDetected:   st.LinkPartnerDetected,
		NoLinkPartnerDetected: st.NoLinkPartnerDetected,
		LFPSBurstSent:         st.LFPSBurstSent,
		LFPSBurstDetected:     st.LFPSPollingDetected,
		TSEQDetected:          prev.tseqDetected,
		TS1Detected:           prev.ts1Detected,
		InvertedTS1Detected:   prev.ts1InvDetected,
		TS2Detected:           prev.ts2Detected,
		TS2Config:             prev.ts2Config,
		TSEQBurstDone:         prev.tseqDone,
		TS2BurstDone:          prev.ts2Done,
		IdleHandshakeComplete: prev.idleComplete,
		RecoveryRequired:      prev.tx.RecoveryRequired || prev.rx.RecoveryRequired || prev.linkTimeout,
	})
	l.warmReset = false

	dir := prev.ltssm
	l.ts2.SetConfig(dir.TS2Config)
	next.tseqDone = l.tseq.Tick(dir.SendTSEQ, grant == sourceTSEQ)
	l.ts1.Tick(dir.SendTS1, grant == sourceTS1)
	next.ts2Done = l.ts2.Tick(dir.SendTS2, grant == sourceTS2)

	next.tseqDetected = l.tseqDet.Tick(rx)
	next.ts1Detected = l.ts1Det.Tick(rx)
	next.ts1InvDetected = l.ts1InvDet.Tick(rx)
	next.ts2Detected = l.ts2Det.Tick(rx)
	if next.ts2Detected {
		next.ts2Config = l.ts2Det.Config()
	}
	next.cmd = l.cmdDet.Tick(rx)
	next.idleComplete = l.idle.Tick(dir.PerformIdleHandshake, rx, st.RxElectricalIdle)

	usbReset := st.InUSBReset || dir.HotReset
	next.tx = l.tx.Tick(TransmitterInputs{
		Listen:   dir.Listen,
		Active:   dir.LinkReady,
		USBReset: usbReset,
		Command:  prev.cmd,
		LRTYSent: prev.rx.LRTYSent,
		Accepted: grant == sourceHeaders,
	})
	next.rx = l.rx.Tick(ReceiverInputs{
		Listen:            dir.Listen,
		Active:            dir.LinkReady,
		USBReset:          usbReset,
		Word:              rx,
		RetryRequired:     prev.tx.RetryRequired,
		RetryReceived:     prev.tx.RetryReceived,
		LGOUReceived:      prev.tx.LGOUReceived,
		KeepaliveRequired: prev.keepalive,
		Accepted:          grant == sourceCommands,
	})
	dataEv := dataNone
	if usbReset {
		l.data.queue = l.data.queue[:0]
	}
	if dir.Listen {
		dataEv = l.data.tick(rx, prev.rx)
	} else {
		l.data.reset()
	}
	next.keepalive, next.linkTimeout = l.timers.tick(dir.LinkReady, next.rx.CommandSent, next.cmd.Detected)

	l.sig = next
	l.account(&next, dir.Listen)
	l.accountData(dataEv)
	return tx, l.control(next.ltssm)
}

func (l *Layer) accountData(ev dataEvent) {
	switch ev {
	case dataReceived:
		l.stats.DataReceived++
	case dataBad:
		l.stats.BadPayloads++
		pkg.LogDebug(pkg.ComponentHeader, "bad data payload")
	case dataDropped:
		l.stats.DroppedPayloads++
		pkg.LogWarn(pkg.ComponentHeader, "data payload dropped", "queued", len(l.data.queue))
	}
}

// control maps LTSSM directives to the PHY.
func (l *Layer) control(o LTSSMOutputs) phy.Control {
	return phy.Control{
		PerformRxDetection: o.PerformRxDetection,
		SendLFPSPolling:    o.SendLFPSPolling,
		TxElectricalIdle:   o.TxElectricalIdle,
		EngageTerminations: o.EngageTerminations,
		EnableScrambling:   o.EnableScrambling,
		InvertRxPolarity:   o.InvertRxPolarity,
		TrainEqualizer:     o.TrainEqualizer,
		TrainAlignment:     o.TrainAlignment,
	}
}

// account updates statistics and reports events for one tick.
func (l *Layer) account(s *signals, listening bool) {
	st := &l.stats
	st.Ticks++

	if s.tx.PacketSent {
		st.PacketsSent++
	}
	st.PacketsRetired += uint64(s.tx.Retired)
	if s.tx.RetryRequired {
		st.Retries++
	}
	if s.rx.Stored {
		st.PacketsReceived++
	}
	if listening && s.rx.BadPacket {
		st.BadPackets++
		st.LastFault = pkg.FaultTransient
	}
	if s.rx.CommandSent {
		st.CommandsSent++
		if pkg.LogEnabled(slog.LevelDebug) {
			pkg.LogDebug(pkg.ComponentCommand, "link command sent", "command", s.rx.Sent.String())
		}
	}
	if s.cmd.Detected {
		st.CommandsReceived++
		if pkg.LogEnabled(slog.LevelDebug) {
			pkg.LogDebug(pkg.ComponentCommand, "link command received", "command", s.cmd.Command.String())
		}
	}
	if s.cmd.Fault {
		st.FramingFaults++
		st.LastFault = pkg.FaultFraming
	}
	switch {
	case s.tx.RecoveryRequired:
		st.LastFault = s.tx.Fault
	case s.rx.RecoveryRequired:
		st.LastFault = s.rx.Fault
	case s.linkTimeout:
		pkg.LogWarn(pkg.ComponentLink, "no link command received", "timeout", l.cfg.LinkCommandTimeout)
		st.LastFault = pkg.FaultSequencing
	}

	o := s.ltssm
	if !o.Transition {
		return
	}
	st.Transitions++
	if o.From == StateU0 {
		st.Recoveries++
		pkg.LogWarn(pkg.ComponentLink, "link recovery", "to", o.State.String(), "cause", st.LastFault.Error())
	}
	if o.Timeout {
		st.TrainingTimeouts++
		st.LastFault = pkg.FaultTraining
		pkg.LogWarn(pkg.ComponentLTSSM, "state timeout", "from", o.From.String(), "to", o.State.String())
	} else {
		pkg.LogInfo(pkg.ComponentLTSSM, "state transition", "from", o.From.String(), "to", o.State.String())
	}
	if l.onStateChange != nil {
		l.onStateChange(o.From, o.State)
	}
}
