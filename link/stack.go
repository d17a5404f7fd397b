package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/tomb.v1"

	"github.com/ardnew/softusb3/phy"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

// Stack runs a Layer against a PHY on its own goroutine and exposes the
// header packet queue to callers on other goroutines.
type Stack struct {
	layer   *Layer
	phy     phy.PHY
	limiter *rate.Limiter

	// State
	running bool
	mutex   sync.Mutex
	notify  chan struct{} // closed when observable layer state changes

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
	death  *tomb.Tomb

	// Event callbacks
	onStateChange func(from, to State)
}

// observable is the layer state callers wait on.
type observable struct {
	state   State
	ready   bool
	canSend bool
	pending int
	data    int
}

// NewStack creates a stack driving layer over p.
func NewStack(layer *Layer, p phy.PHY) *Stack {
	return &Stack{
		layer:  layer,
		phy:    p,
		notify: make(chan struct{}),
	}
}

// SetTickRate paces the symbol clock to r ticks per second with the given
// burst. rate.Inf, the default, runs as fast as the PHY allows.
func (s *Stack) SetTickRate(r rate.Limit, burst int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r == rate.Inf {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(r, burst)
}

// SetOnStateChange sets the callback invoked after each LTSSM transition.
// It runs on the stack goroutine.
func (s *Stack) SetOnStateChange(cb func(from, to State)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onStateChange = cb
}

// Start initializes the PHY and starts the tick loop.
func (s *Stack) Start(ctx context.Context) error {
	if s.layer == nil || s.phy == nil {
		return pkg.ErrNotConfigured
	}
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.phy.Init(s.ctx); err != nil {
		s.cancel()
		return fmt.Errorf("phy init: %w", err)
	}
	if err := s.phy.Start(); err != nil {
		s.cancel()
		return fmt.Errorf("phy start: %w", err)
	}

	s.mutex.Lock()
	s.running = true
	s.death = new(tomb.Tomb)
	death := s.death
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "link stack started")

	go s.run(death)
	return nil
}

// Stop stops the tick loop and the PHY. It returns the PHY error that
// ended the loop, if any.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	death := s.death
	s.cancel()
	s.mutex.Unlock()

	death.Kill(nil)
	loopErr := death.Wait()

	if err := s.phy.Stop(); err != nil {
		return fmt.Errorf("phy stop: %w", err)
	}

	pkg.LogDebug(pkg.ComponentStack, "link stack stopped")
	return loopErr
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Done returns a channel closed once the tick loop has exited.
func (s *Stack) Done() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.death == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.death.Dead()
}

// Err returns the error that ended the tick loop, if any.
func (s *Stack) Err() error {
	s.mutex.Lock()
	death := s.death
	s.mutex.Unlock()
	if death == nil {
		return nil
	}
	select {
	case <-death.Dead():
		return death.Err()
	default:
		return nil
	}
}

// State returns the current LTSSM state.
func (s *Stack) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.layer.State()
}

// Stats returns a snapshot of the layer event counters.
func (s *Stack) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.layer.Stats()
}

// WaitReady blocks until the link is in U0 with header credits advertised.
func (s *Stack) WaitReady(ctx context.Context) error {
	return s.wait(ctx, func() (bool, error) {
		return s.layer.Ready(), nil
	})
}

// Send queues a header packet, blocking until the link is ready and the
// partner has a free buffer.
func (s *Stack) Send(ctx context.Context, hp HeaderPacket) error {
	return s.wait(ctx, func() (bool, error) {
		return queued(s.layer.Send(hp))
	})
}

// SendData queues a data packet header and its payload, blocking like Send.
func (s *Stack) SendData(ctx context.Context, hp HeaderPacket, payload []byte) error {
	return s.wait(ctx, func() (bool, error) {
		return queued(s.layer.SendData(hp, payload))
	})
}

// queued maps a send result to a wait condition, retrying while the link
// is not ready or out of credit.
func queued(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pkg.ErrNoCredit), errors.Is(err, pkg.ErrLinkNotReady):
		return false, nil
	default:
		return false, err
	}
}

// Receive blocks until a header packet has been received.
func (s *Stack) Receive(ctx context.Context) (HeaderPacket, error) {
	var hp HeaderPacket
	err := s.wait(ctx, func() (bool, error) {
		var ok bool
		hp, ok = s.layer.Receive()
		return ok, nil
	})
	return hp, err
}

// ReceiveData blocks until a data packet payload has been received. Its
// header is also delivered by Receive.
func (s *Stack) ReceiveData(ctx context.Context) (DataPacket, error) {
	var dp DataPacket
	err := s.wait(ctx, func() (bool, error) {
		var ok bool
		dp, ok = s.layer.ReceiveData()
		return ok, nil
	})
	return dp, err
}

// wait evaluates cond under the stack lock each time observable state
// changes until it reports done.
func (s *Stack) wait(ctx context.Context, cond func() (bool, error)) error {
	for {
		s.mutex.Lock()
		if !s.running {
			s.mutex.Unlock()
			return pkg.ErrNotRunning
		}
		done, err := cond()
		notify := s.notify
		dying := s.death.Dying()
		s.mutex.Unlock()
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dying:
			return pkg.ErrNotRunning
		case <-notify:
		}
	}
}

func (s *Stack) snapshot() observable {
	return observable{
		state:   s.layer.State(),
		ready:   s.layer.Ready(),
		canSend: s.layer.CanSend(),
		pending: s.layer.Pending(),
		data:    s.layer.PendingData(),
	}
}

// run is the tick loop.
func (s *Stack) run(death *tomb.Tomb) {
	defer death.Done()

	var (
		rx symbol.Word
		st phy.Status
	)
	for {
		select {
		case <-death.Dying():
			return
		default:
		}

		s.mutex.Lock()
		limiter := s.limiter
		s.mutex.Unlock()
		if limiter != nil {
			if err := limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		s.mutex.Lock()
		before := s.snapshot()
		tx, ctl := s.layer.Tick(rx, st)
		after := s.snapshot()
		cb := s.onStateChange
		if after != before {
			close(s.notify)
			s.notify = make(chan struct{})
		}
		s.mutex.Unlock()

		if cb != nil && after.state != before.state {
			cb(before.state, after.state)
		}

		var err error
		rx, st, err = s.phy.Exchange(s.ctx, tx, ctl)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			pkg.LogError(pkg.ComponentStack, "phy exchange failed", "error", err)
			death.Kill(fmt.Errorf("%w: %w", pkg.ErrPHY, err))
			return
		}
	}
}
