package fifo

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ardnew/softusb3/phy"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// Role selects which direction an end transmits on.
type Role int

// Port roles.
const (
	RoleUpstream   Role = iota // upstream facing port (device)
	RoleDownstream             // downstream facing port (host or hub)
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleDownstream {
		return "downstream"
	}
	return "upstream"
}

// FIFO file names.
const (
	fifoUpToDown = "upstream_to_downstream"
	fifoDownToUp = "downstream_to_upstream"
)

// frameSize is the encoded size of one symbol period.
const frameSize = 6

// Frame flags.
const (
	flagFirst = 1 << iota
	flagLast
	flagLFPS
	flagTerminations
	flagElectricalIdle
	flagWarmReset
)

// DefaultPeerTimeout bounds how long Exchange waits for the partner's
// frame before treating the line as idle.
const DefaultPeerTimeout = 100 * time.Millisecond

// DefaultLossTimeout bounds how long Exchange waits for a connected
// partner before treating it as gone.
const DefaultLossTimeout = time.Second

// pollInterval is the read deadline between cancellation checks.
const pollInterval = 10 * time.Millisecond

// drainWait is how long Start waits for more stale bytes. A deadline
// already in the past fails the read before any byte is taken.
const drainWait = time.Millisecond

// errPeerTimeout reports that the partner did not answer in time.
var errPeerTimeout = errors.New("peer timeout")

// Option configures a PHY.
type Option func(*PHY)

// WithPeerTimeout sets how long Exchange waits for the partner.
func WithPeerTimeout(d time.Duration) Option {
	return func(p *PHY) { p.peerTimeout = d }
}

// WithLossTimeout sets how long Exchange waits for a partner that has
// answered before.
func WithLossTimeout(d time.Duration) Option {
	return func(p *PHY) { p.lossTimeout = d }
}

// WithLFPSPeriod sets the symbol periods between polling LFPS bursts.
func WithLFPSPeriod(n int) Option {
	return func(p *PHY) { p.lfps.Period = n }
}

// WithDetectDuration sets the symbol periods one receiver detection takes.
func WithDetectDuration(n int) Option {
	return func(p *PHY) { p.detect.Duration = n }
}

// PHY implements phy.PHY using a pair of named pipes.
type PHY struct {
	dir         string
	role        Role
	peerTimeout time.Duration
	lossTimeout time.Duration

	// FIFOs
	txWrite *os.File // this end writes
	rxRead  *os.File // this end reads

	lfps   phy.LFPSGenerator
	detect phy.RxDetector

	// State
	connected        uint32 // Atomic: 1 = partner answered the last frame
	peerTerminations bool
	warmReset        atomic.Bool
	frames           uint64

	// Synchronization
	mutex     sync.Mutex
	initDone  bool
	closeCh   chan struct{} // closed by Stop, replaced by Init
	closeOnce *sync.Once
}

// New creates a FIFO PHY in the link directory dir.
func New(dir string, role Role, opts ...Option) *PHY {
	p := &PHY{
		dir:         dir,
		role:        role,
		peerTimeout: DefaultPeerTimeout,
		lossTimeout: DefaultLossTimeout,
		lfps:        phy.LFPSGenerator{Period: phy.DefaultLFPSPeriod},
		detect:      phy.RxDetector{Duration: phy.DefaultDetectDuration},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init creates the link directory and FIFOs and opens them.
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

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create link dir %s", p.dir)
	}
	for _, name := range []string{fifoUpToDown, fifoDownToUp} {
		if err := p.createFIFO(name); err != nil {
			return err
		}
	}

	txName, rxName := fifoUpToDown, fifoDownToUp
	if p.role == RoleDownstream {
		txName, rxName = rxName, txName
	}

	var err error
	p.txWrite, err = p.openFIFO(txName)
	if err != nil {
		p.cleanup()
		return err
	}
	p.rxRead, err = p.openFIFO(rxName)
	if err != nil {
		p.cleanup()
		return err
	}

	p.initDone = true
	pkg.LogInfo(pkg.ComponentPHY, "fifo phy initialized",
		"dir", p.dir,
		"role", p.role.String())
	return nil
}

// Start enables the PHY. Frames the partner wrote before this end
// started are discarded so both ends begin in lockstep.
func (p *PHY) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.initDone {
		return pkg.ErrNotConfigured
	}
	stale, err := p.drain(p.rxRead)
	if err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentPHY, "fifo phy started", "role", p.role.String(), "discarded", stale)
	return nil
}

// drain discards everything readable from f. Returns
// the number of bytes discarded.
func (p *PHY) drain(f *os.File) (int, error) {
	buf := pool.Get(frameSize * 64)
	defer pool.Put(buf)

	total := 0
	for {
		f.SetReadDeadline(time.Now().Add(drainWait))
		n, err := f.Read(buf)
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				return total, nil
			}
			return total, errors.Wrap(err, "drain")
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Stop closes the FIFOs. The FIFO files are left for the partner.
func (p *PHY) Stop() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closeOnce != nil {
		done := p.closeCh
		p.closeOnce.Do(func() { close(done) })
	}

	p.cleanup()
	p.initDone = false
	atomic.StoreUint32(&p.connected, 0)
	pkg.LogInfo(pkg.ComponentPHY, "fifo phy stopped", "role", p.role.String(), "frames", p.frames)
	return nil
}

// cleanup closes all FIFOs.
func (p *PHY) cleanup() {
	if p.txWrite != nil {
		p.txWrite.Close()
		p.txWrite = nil
	}
	if p.rxRead != nil {
		p.rxRead.Close()
		p.rxRead = nil
	}
}

// IsConnected reports whether the partner answered the last frame.
func (p *PHY) IsConnected() bool {
	return atomic.LoadUint32(&p.connected) == 1
}

// Dir returns the link directory.
func (p *PHY) Dir() string {
	return p.dir
}

// SendWarmReset signals a warm reset to the partner with the next frame.
func (p *PHY) SendWarmReset() {
	p.warmReset.Store(true)
}

// Exchange writes one frame and reads the partner's next frame.
func (p *PHY) Exchange(ctx context.Context, tx symbol.Word, ctl phy.Control) (symbol.Word, phy.Status, error) {
	var st phy.Status

	p.mutex.Lock()
	w, r, done := p.txWrite, p.rxRead, p.closeCh
	p.mutex.Unlock()
	if w == nil || r == nil {
		return symbol.Idle, st, pkg.ErrNotConfigured
	}

	buf := pool.Get(frameSize)
	defer pool.Put(buf)

	elecIdle := ctl.TxElectricalIdle || ctl.SendLFPSPolling
	st.LFPSBurstSent = p.lfps.Tick(ctl.SendLFPSPolling)
	if elecIdle {
		tx = symbol.Idle
	}
	var flags byte
	if tx.First {
		flags |= flagFirst
	}
	if tx.Last {
		flags |= flagLast
	}
	if st.LFPSBurstSent {
		flags |= flagLFPS
	}
	if ctl.EngageTerminations {
		flags |= flagTerminations
	}
	if elecIdle {
		flags |= flagElectricalIdle
	}
	if p.warmReset.Swap(false) {
		flags |= flagWarmReset
	}
	binary.LittleEndian.PutUint32(buf[0:4], tx.Data)
	buf[4] = tx.Ctrl
	buf[5] = flags

	err := p.writeWithContext(ctx, done, w, buf)
	if err == nil {
		err = p.readWithContext(ctx, done, r, buf)
	}
	switch {
	case errors.Is(err, errPeerTimeout):
		if atomic.SwapUint32(&p.connected, 0) == 1 {
			pkg.LogWarn(pkg.ComponentPHY, "partner not responding", "timeout", p.lossTimeout)
		}
		buf[0], buf[1], buf[2], buf[3], buf[4] = 0, 0, 0, 0, 0
		buf[5] = flagElectricalIdle
	case err != nil:
		return symbol.Idle, st, err
	default:
		if atomic.SwapUint32(&p.connected, 1) == 0 {
			pkg.LogInfo(pkg.ComponentPHY, "partner connected")
		}
	}
	p.frames++

	rx := symbol.Word{
		Data:  binary.LittleEndian.Uint32(buf[0:4]),
		Ctrl:  buf[4] & symbol.CtrlAll,
		First: buf[5]&flagFirst != 0,
		Last:  buf[5]&flagLast != 0,
	}
	flags = buf[5]

	st.Ready = true
	st.WarmReset = flags&flagWarmReset != 0
	st.LFPSPollingDetected = flags&flagLFPS != 0
	st.RxElectricalIdle = flags&flagElectricalIdle != 0
	st.LinkPartnerDetected, st.NoLinkPartnerDetected = p.detect.Tick(ctl.PerformRxDetection, p.peerTerminations)
	p.peerTerminations = flags&flagTerminations != 0

	return rx, st, nil
}

// createFIFO creates a named pipe unless one already exists.
func (p *PHY) createFIFO(name string) error {
	path := filepath.Join(p.dir, name)
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
		return nil
	}
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return errors.Wrapf(err, "mkfifo %s", name)
	}
	return nil
}

// openFIFO opens a named pipe for non-blocking reads and writes.
func (p *PHY) openFIFO(name string) (*os.File, error) {
	path := filepath.Join(p.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	return f, nil
}

// timeout returns how long to wait for the partner.
func (p *PHY) timeout() time.Duration {
	if p.IsConnected() {
		return p.lossTimeout
	}
	return p.peerTimeout
}

// readWithContext reads exactly len(buf) bytes. It returns errPeerTimeout
// if nothing arrives in time; a partially read frame is always completed.
func (p *PHY) readWithContext(ctx context.Context, done <-chan struct{}, f *os.File, buf []byte) error {
	total := 0
	deadline := time.Now().Add(p.timeout())
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return pkg.ErrCancelled
		default:
		}
		if total == 0 && time.Now().After(deadline) {
			return errPeerTimeout
		}

		f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "read frame")
		}
	}
	return nil
}

// writeWithContext writes all of buf. It returns errPeerTimeout if the
// FIFO stays full.
func (p *PHY) writeWithContext(ctx context.Context, done <-chan struct{}, f *os.File, buf []byte) error {
	written := 0
	deadline := time.Now().Add(p.timeout())
	for written < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return pkg.ErrCancelled
		default:
		}
		if written == 0 && time.Now().After(deadline) {
			return errPeerTimeout
		}

		f.SetWriteDeadline(time.Now().Add(pollInterval))
		n, err := f.Write(buf[written:])
		written += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "write frame")
		}
	}
	return nil
}

// Compile-time interface check
var _ phy.PHY = (*PHY)(nil)
