package link

import "github.com/ardnew/softusb3/pkg"

// State is an LTSSM state (USB 3.2 Spec Section 7.5).
type State int

// LTSSM states.
const (
	StateRxDetectReset State = iota
	StateRxDetectActive
	StateRxDetectQuiet
	StatePollingLFPS
	StatePollingRxEQ
	StatePollingActive
	StatePollingConfiguration
	StatePollingIdle
	StateU0
	StateCompliance
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRxDetectReset:
		return "Rx.Detect.Reset"
	case StateRxDetectActive:
		return "Rx.Detect.Active"
	case StateRxDetectQuiet:
		return "Rx.Detect.Quiet"
	case StatePollingLFPS:
		return "Polling.LFPS"
	case StatePollingRxEQ:
		return "Polling.RxEQ"
	case StatePollingActive:
		return "Polling.Active"
	case StatePollingConfiguration:
		return "Polling.Configuration"
	case StatePollingIdle:
		return "Polling.Idle"
	case StateU0:
		return "U0"
	case StateCompliance:
		return "Compliance"
	default:
		return "unknown"
	}
}

// LTSSMInputs are the events the LTSSM consumes in one tick.
type LTSSMInputs struct {
	// Physical layer.
	PHYReady              bool
	InUSBReset            bool
	WarmReset             bool
	LinkPartnerDetected   bool
	NoLinkPartnerDetected bool
	LFPSBurstSent         bool
	LFPSBurstDetected     bool

	// Ordered set codec.
	TSEQDetected        bool
	TS1Detected         bool
	InvertedTS1Detected bool
	TS2Detected         bool
	TS2Config           TrainingConfig
	TSEQBurstDone       bool
	TS2BurstDone        bool

	// Link layer.
	IdleHandshakeComplete bool
	RecoveryRequired      bool
}

// LTSSMOutputs are the directives the LTSSM drives from its state.
type LTSSMOutputs struct {
	State State

	PerformRxDetection   bool
	SendLFPSPolling      bool
	SendTSEQ             bool
	SendTS1              bool
	SendTS2              bool
	TS2Config            TrainingConfig
	PerformIdleHandshake bool

	TxElectricalIdle   bool
	EngageTerminations bool
	TrainEqualizer     bool
	TrainAlignment     bool
	InvertRxPolarity   bool
	EnableScrambling   bool

	// Listen is set once the idle handshake starts; header flow control
	// commands are accepted from here on.
	Listen bool
	// LinkReady is set in U0.
	LinkReady bool
	// HotReset pulses on entry to Polling.Idle when a hot reset was
	// requested or received during training.
	HotReset bool

	// Transition reports a state change this tick.
	Transition bool
	From       State
	// Timeout reports that the change was forced by a state time bound.
	Timeout bool
}

// ltssmTiming holds the state bounds in ticks.
type ltssmTiming struct {
	quiet, detect, lfps, rxeq, polling, idle, compliance uint64
	lfpsMin, lfpsAfterRx                                 int
}

func newLTSSMTiming(cfg Config) ltssmTiming {
	return ltssmTiming{
		quiet:       cfg.Ticks(cfg.QuietTimeout),
		detect:      cfg.Ticks(cfg.DetectTimeout),
		lfps:        cfg.Ticks(cfg.LFPSTimeout),
		rxeq:        cfg.Ticks(cfg.RxEQTimeout),
		polling:     cfg.Ticks(cfg.PollingTimeout),
		idle:        cfg.Ticks(cfg.IdleTimeout),
		compliance:  cfg.Ticks(cfg.ComplianceTimeout),
		lfpsMin:     cfg.LFPSMinBursts,
		lfpsAfterRx: cfg.LFPSBurstsAfterRx,
	}
}

// LTSSM is the link training and status state machine.
type LTSSM struct {
	timing            ltssmTiming
	disableScrambling bool

	state   State
	elapsed uint64 // ticks since entering state

	// Training progress, cleared on entry to Polling.LFPS.
	lfpsSent        int
	lfpsSentAtFirst int
	lfpsSeen        bool
	tseqSeen        bool
	ts1Seen         bool
	ts2Seen         bool
	ts2BurstSent    bool
	hotResetRx      bool
	noScrambling    bool
	invertPolarity  bool
	hotResetRequest bool
}

// NewLTSSM creates an LTSSM in Rx.Detect.Reset.
func NewLTSSM(cfg Config) *LTSSM {
	return &LTSSM{
		timing:            newLTSSMTiming(cfg),
		disableScrambling: cfg.DisableScrambling,
	}
}

// State returns the current state.
func (l *LTSSM) State() State {
	return l.state
}

// RequestHotReset asks the partner for a hot reset during the next
// Polling.Configuration.
func (l *LTSSM) RequestHotReset() {
	l.hotResetRequest = true
}

// Tick advances the LTSSM by one tick and returns the directives of the
// resulting state.
func (l *LTSSM) Tick(in LTSSMInputs) LTSSMOutputs {
	l.observe(in)

	from := l.state
	to, timeout := l.next(in)
	out := LTSSMOutputs{From: from}
	if to != from {
		out.Transition = true
		out.Timeout = timeout
		out.HotReset = l.enter(to)
	} else {
		l.elapsed++
	}
	l.drive(&out)
	return out
}

// observe latches training progress from this tick's events.
func (l *LTSSM) observe(in LTSSMInputs) {
	switch l.state {
	case StatePollingLFPS:
		if in.LFPSBurstDetected && !l.lfpsSeen {
			l.lfpsSeen = true
			l.lfpsSentAtFirst = l.lfpsSent
		}
		if in.LFPSBurstSent {
			l.lfpsSent++
		}
	case StateRxDetectReset, StateRxDetectActive, StateRxDetectQuiet, StateCompliance:
		return
	}
	if in.TSEQDetected {
		l.tseqSeen = true
	}
	if in.TS1Detected {
		l.ts1Seen = true
	}
	if in.InvertedTS1Detected {
		l.ts1Seen = true
		if !l.invertPolarity {
			pkg.LogInfo(pkg.ComponentTraining, "inverted TS1 detected, inverting receive polarity")
		}
		l.invertPolarity = true
	}
	if in.TS2Detected {
		l.ts2Seen = true
		l.hotResetRx = l.hotResetRx || in.TS2Config.HotReset
		l.noScrambling = l.noScrambling || in.TS2Config.DisableScrambling
	}
	if in.TS2BurstDone && l.state == StatePollingConfiguration {
		l.ts2BurstSent = true
	}
}

// next computes the state for the following tick and whether the change
// was forced by a timeout.
func (l *LTSSM) next(in LTSSMInputs) (State, bool) {
	if in.WarmReset {
		return StateRxDetectReset, false
	}
	t := l.timing
	switch l.state {
	case StateRxDetectReset:
		if in.PHYReady && !in.InUSBReset {
			return StateRxDetectActive, false
		}
	case StateRxDetectActive:
		switch {
		case in.LinkPartnerDetected:
			return StatePollingLFPS, false
		case in.NoLinkPartnerDetected:
			return StateRxDetectQuiet, false
		case l.elapsed >= t.detect:
			return StateRxDetectQuiet, true
		}
	case StateRxDetectQuiet:
		if l.elapsed >= t.quiet {
			return StateRxDetectActive, false
		}
	case StatePollingLFPS:
		if l.lfpsSeen && l.lfpsSent >= t.lfpsMin && l.lfpsSent-l.lfpsSentAtFirst >= t.lfpsAfterRx {
			return StatePollingRxEQ, false
		}
		if l.elapsed >= t.lfps {
			if l.lfpsSeen {
				return StateRxDetectActive, true
			}
			return StateCompliance, true
		}
	case StatePollingRxEQ:
		if in.TSEQBurstDone {
			return StatePollingActive, false
		}
		if l.elapsed >= t.rxeq {
			return StateRxDetectActive, true
		}
	case StatePollingActive:
		if l.ts1Seen || l.ts2Seen {
			return StatePollingConfiguration, false
		}
		if l.elapsed >= t.polling {
			return StateRxDetectActive, true
		}
	case StatePollingConfiguration:
		if l.ts2BurstSent && l.ts2Seen {
			return StatePollingIdle, false
		}
		if l.elapsed >= t.polling {
			return StateRxDetectActive, true
		}
	case StatePollingIdle:
		if in.IdleHandshakeComplete {
			return StateU0, false
		}
		if l.elapsed >= t.idle {
			return StateRxDetectReset, true
		}
	case StateU0:
		if in.RecoveryRequired {
			return StateRxDetectReset, false
		}
		if in.LFPSBurstDetected {
			return StatePollingLFPS, false
		}
	case StateCompliance:
		if l.elapsed >= t.compliance {
			return StateRxDetectReset, false
		}
	}
	return l.state, false
}

// enter commits a transition. Returns true when entering Polling.Idle
// with a hot reset pending.
func (l *LTSSM) enter(to State) bool {
	l.state = to
	l.elapsed = 0
	hotReset := false
	switch to {
	case StateRxDetectReset:
		l.invertPolarity = false
	case StatePollingLFPS:
		l.lfpsSent = 0
		l.lfpsSentAtFirst = 0
		l.lfpsSeen = false
		l.tseqSeen = false
		l.ts1Seen = false
		l.ts2Seen = false
		l.ts2BurstSent = false
		l.hotResetRx = false
		l.noScrambling = false
	case StatePollingIdle:
		hotReset = l.hotResetRequest || l.hotResetRx
		l.hotResetRequest = false
	}
	return hotReset
}

// drive sets the directives of the current state.
func (l *LTSSM) drive(out *LTSSMOutputs) {
	s := l.state
	out.State = s
	out.EngageTerminations = s != StateRxDetectReset
	out.InvertRxPolarity = l.invertPolarity
	out.TS2Config = TrainingConfig{
		HotReset:          l.hotResetRequest,
		DisableScrambling: l.disableScrambling,
	}
	switch s {
	case StateRxDetectReset, StateRxDetectQuiet:
		out.TxElectricalIdle = true
	case StateRxDetectActive:
		out.TxElectricalIdle = true
		out.PerformRxDetection = true
	case StatePollingLFPS:
		out.SendLFPSPolling = true
	case StatePollingRxEQ:
		out.SendTSEQ = true
		out.TrainEqualizer = true
		out.TrainAlignment = !l.tseqSeen
	case StatePollingActive:
		out.SendTS1 = true
	case StatePollingConfiguration:
		out.SendTS2 = true
	case StatePollingIdle:
		out.PerformIdleHandshake = true
		out.Listen = true
		out.EnableScrambling = !l.scramblingOff()
	case StateU0:
		out.Listen = true
		out.LinkReady = true
		out.EnableScrambling = !l.scramblingOff()
	}
}

func (l *LTSSM) scramblingOff() bool {
	return l.disableScrambling || l.noScrambling
}
