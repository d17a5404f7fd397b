// Package loopback provides a pair of cross-connected in-memory PHYs.
//
// Each PHY of a Pair delivers the word its peer transmitted in the
// previous symbol period, so two link layers stepped on separate
// goroutines run in lockstep. LFPS polling, receiver detection and
// electrical idle are carried alongside every word.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softusb3/phy"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// frame is one symbol period on the wire.
type frame struct {
	word         symbol.Word
	lfps         bool
	terminations bool
	elecIdle     bool
	warmReset    bool
}

// idleFrame is what a stopped transmitter looks like to its partner.
var idleFrame = frame{elecIdle: true}

// Option configures one PHY of a Pair.
type Option func(*PHY)

// WithLFPSPeriod sets the symbol periods between polling LFPS bursts.
func WithLFPSPeriod(n int) Option {
	return func(p *PHY) { p.lfps.Period = n }
}

// WithDetectDuration sets the symbol periods one receiver detection takes.
func WithDetectDuration(n int) Option {
	return func(p *PHY) { p.detect.Duration = n }
}

// WithInvertedPolarity swaps the differential pair on the receive side.
// Received words arrive bit-inverted until the link layer asks for
// polarity inversion.
func WithInvertedPolarity() Option {
	return func(p *PHY) { p.inverted = true }
}

// WithFault installs a hook applied to every received word.
func WithFault(fn func(symbol.Word) symbol.Word) Option {
	return func(p *PHY) { p.fault = fn }
}

// PHY is one end of a loopback pair. It implements phy.PHY.
type PHY struct {
	name string
	tx   chan frame
	rx   chan frame

	lfps     phy.LFPSGenerator
	detect   phy.RxDetector
	inverted bool
	fault    func(symbol.Word) symbol.Word

	// peer terminations seen in the last received frame
	peerTerminations bool
	warmReset        atomic.Bool
	started          atomic.Bool

	mutex     sync.Mutex
	initDone  bool
	closeCh   chan struct{} // closed by Stop, replaced by Init
	closeOnce *sync.Once
}

// NewPair returns two connected PHYs. Options apply to both ends; use
// Configure to set options on one end only.
func NewPair(opts ...Option) (*PHY, *PHY) {
	ab := make(chan frame, 2)
	ba := make(chan frame, 2)
	ab <- idleFrame
	ba <- idleFrame

	a := newPHY("a", ab, ba)
	b := newPHY("b", ba, ab)
	for _, opt := range opts {
		opt(a)
		opt(b)
	}
	return a, b
}

func newPHY(name string, tx, rx chan frame) *PHY {
	return &PHY{
		name:   name,
		tx:     tx,
		rx:     rx,
		lfps:   phy.LFPSGenerator{Period: phy.DefaultLFPSPeriod},
		detect: phy.RxDetector{Duration: phy.DefaultDetectDuration},
	}
}

// Configure applies options to this end only. Call before Init.
func (p *PHY) Configure(opts ...Option) *PHY {
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init prepares the PHY.
func (p *PHY) Init(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.initDone {
		return pkg.ErrAlreadyRunning
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.closeCh = make(chan struct{})
	p.closeOnce = new(sync.Once)
	p.initDone = true
	pkg.LogDebug(pkg.ComponentPHY, "loopback phy initialized", "end", p.name)
	return nil
}

// Start enables the transmitter and receiver.
func (p *PHY) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.initDone {
		return pkg.ErrNotConfigured
	}
	p.started.Store(true)
	return nil
}

// Stop disables the PHY. Pending Exchange calls return pkg.ErrCancelled.
// Frames already queued between the ends are kept, so a pair stopped and
// restarted resumes the same symbol streams.
func (p *PHY) Stop() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.started.Store(false)
	p.initDone = false
	if p.closeOnce != nil {
		done := p.closeCh
		p.closeOnce.Do(func() { close(done) })
	}
	pkg.LogDebug(pkg.ComponentPHY, "loopback phy stopped", "end", p.name)
	return nil
}

// SendWarmReset signals a warm reset to the partner with the next word.
func (p *PHY) SendWarmReset() {
	p.warmReset.Store(true)
}

// Exchange transmits one word and returns the word the partner sent in
// the previous symbol period.
func (p *PHY) Exchange(ctx context.Context, tx symbol.Word, ctl phy.Control) (symbol.Word, phy.Status, error) {
	var st phy.Status
	if !p.started.Load() {
		return symbol.Idle, st, pkg.ErrNotConfigured
	}
	p.mutex.Lock()
	done := p.closeCh
	p.mutex.Unlock()

	out := frame{
		word:         tx,
		terminations: ctl.EngageTerminations,
		elecIdle:     ctl.TxElectricalIdle || ctl.SendLFPSPolling,
		warmReset:    p.warmReset.Swap(false),
	}
	st.LFPSBurstSent = p.lfps.Tick(ctl.SendLFPSPolling)
	out.lfps = st.LFPSBurstSent
	if out.elecIdle {
		out.word = symbol.Idle
	}

	select {
	case p.tx <- out:
	case <-ctx.Done():
		return symbol.Idle, st, ctx.Err()
	case <-done:
		return symbol.Idle, st, pkg.ErrCancelled
	}

	var in frame
	select {
	case in = <-p.rx:
	case <-ctx.Done():
		return symbol.Idle, st, ctx.Err()
	case <-done:
		return symbol.Idle, st, pkg.ErrCancelled
	}

	st.Ready = true
	st.WarmReset = in.warmReset
	st.LFPSPollingDetected = in.lfps
	st.RxElectricalIdle = in.elecIdle
	st.LinkPartnerDetected, st.NoLinkPartnerDetected = p.detect.Tick(ctl.PerformRxDetection, p.peerTerminations)
	p.peerTerminations = in.terminations

	w := in.word
	if !in.elecIdle && p.inverted != ctl.InvertRxPolarity {
		w = w.Inverted()
	}
	if p.fault != nil {
		w = p.fault(w)
	}
	return w, st, nil
}

var _ phy.PHY = (*PHY)(nil)
