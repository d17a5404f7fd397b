package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/ardnew/softusb3/phy"
	"github.com/ardnew/softusb3/phy/loopback"
	"github.com/ardnew/softusb3/pkg"
	"github.com/ardnew/softusb3/symbol"
)

var errTransport = errors.New("transport failure")

// mockPHY answers every exchange immediately with logical idle.
type mockPHY struct {
	initErr     error
	exchangeErr error
	stopped     bool
	mutex       sync.Mutex
}

func (m *mockPHY) Init(ctx context.Context) error { return m.initErr }
func (m *mockPHY) Start() error                   { return nil }

func (m *mockPHY) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stopped = true
	return nil
}

func (m *mockPHY) Exchange(ctx context.Context, tx symbol.Word, ctl phy.Control) (symbol.Word, phy.Status, error) {
	return symbol.Idle, phy.Status{}, m.exchangeErr
}

var _ phy.PHY = (*mockPHY)(nil)

func newTestStack(t *testing.T, p phy.PHY, cfg Config) *Stack {
	t.Helper()
	l, err := NewLayer(cfg)
	if err != nil {
		t.Fatalf("NewLayer() error = %v", err)
	}
	return NewStack(l, p)
}

func TestStackNotConfigured(t *testing.T) {
	s := NewStack(nil, nil)
	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Start() error = %v, want %v", err, pkg.ErrNotConfigured)
	}
}

func TestStackNotRunning(t *testing.T) {
	s := newTestStack(t, &mockPHY{}, SimulationConfig())
	ctx := context.Background()

	if err := s.WaitReady(ctx); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("WaitReady() error = %v, want %v", err, pkg.ErrNotRunning)
	}
	if err := s.Send(ctx, testHeader); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Send() error = %v, want %v", err, pkg.ErrNotRunning)
	}
	if _, err := s.Receive(ctx); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Receive() error = %v, want %v", err, pkg.ErrNotRunning)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() open on a stack never started")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestStackInitError(t *testing.T) {
	s := newTestStack(t, &mockPHY{initErr: errTransport}, SimulationConfig())
	if err := s.Start(context.Background()); !errors.Is(err, errTransport) {
		t.Errorf("Start() error = %v, want %v", err, errTransport)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after failed start, want false")
	}
}

func TestStackPHYFailure(t *testing.T) {
	m := &mockPHY{exchangeErr: errTransport}
	s := newTestStack(t, m, SimulationConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tick loop still running after PHY failure")
	}
	if err := s.Err(); !errors.Is(err, pkg.ErrPHY) || !errors.Is(err, errTransport) {
		t.Errorf("Err() = %v, want %v wrapping %v", err, pkg.ErrPHY, errTransport)
	}
	if err := s.WaitReady(context.Background()); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("WaitReady() error = %v, want %v", err, pkg.ErrNotRunning)
	}
	if err := s.Stop(); !errors.Is(err, pkg.ErrPHY) {
		t.Errorf("Stop() error = %v, want %v", err, pkg.ErrPHY)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.stopped {
		t.Error("PHY not stopped")
	}
}

func TestStackWaitCancelled(t *testing.T) {
	s := newTestStack(t, &mockPHY{}, SimulationConfig())
	s.SetTickRate(rate.Limit(10000), 1)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestStackTickRate(t *testing.T) {
	s := newTestStack(t, &mockPHY{}, SimulationConfig())
	s.SetTickRate(rate.Inf, 1)
	if s.limiter != nil {
		t.Error("limiter set for rate.Inf, want none")
	}
	s.SetTickRate(rate.Limit(1000), 0)
	if s.limiter == nil || s.limiter.Burst() != 1 {
		t.Fatal("limiter not configured with burst 1")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
	if ticks := s.Stats().Ticks; ticks == 0 || ticks > 200 {
		t.Errorf("Ticks = %d in 50ms at 1000 Hz, want between 1 and 200", ticks)
	}
}

func TestStackPair(t *testing.T) {
	pa, pb := loopback.NewPair(loopback.WithLFPSPeriod(20), loopback.WithDetectDuration(10))
	a := newTestStack(t, pa, SimulationConfig())
	cfg := SimulationConfig()
	cfg.DownstreamFacing = true
	b := newTestStack(t, pb, cfg)

	var mutex sync.Mutex
	var states []State
	a.SetOnStateChange(func(_, to State) {
		mutex.Lock()
		defer mutex.Unlock()
		states = append(states, to)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range []*Stack{a, b} {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	if err := a.Start(ctx); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}

	for _, s := range []*Stack{a, b} {
		if err := s.WaitReady(ctx); err != nil {
			t.Fatalf("WaitReady() error = %v", err)
		}
	}

	const n = 12
	sendErr := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := a.Send(ctx, numbered(i)); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	for i := 0; i < n; i++ {
		hp, err := b.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if hp.DW1 != uint32(i) || hp.SequenceNumber != uint8(i%8) {
			t.Errorf("packet %d = %v, want DW1 %d seq %d", i, hp, i, i%8)
		}
	}
	if err := <-sendErr; err != nil {
		t.Errorf("Send() error = %v", err)
	}

	if a.State() != StateU0 || b.State() != StateU0 {
		t.Errorf("State() = %v, %v, want U0, U0", a.State(), b.State())
	}
	for _, s := range []*Stack{a, b} {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() error = %v, want nil", err)
		}
		if s.IsRunning() {
			t.Error("IsRunning() = true after Stop, want false")
		}
	}

	mutex.Lock()
	defer mutex.Unlock()
	if len(states) == 0 || states[len(states)-1] != StateU0 {
		t.Errorf("observed transitions = %v, want ending in U0", states)
	}
}

// sendAll sends packets from..from+n-1 from a and checks that b receives
// them in order.
func sendAll(t *testing.T, ctx context.Context, a, b *Stack, from, n int) {
	t.Helper()
	sendErr := make(chan error, 1)
	go func() {
		for i := from; i < from+n; i++ {
			if err := a.Send(ctx, numbered(i)); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()
	for i := from; i < from+n; i++ {
		hp, err := b.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if hp.DW1 != uint32(i) {
			t.Errorf("packet %d = %v, want DW1 %d", i, hp, i)
		}
	}
	if err := <-sendErr; err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

// waitSettled waits until every packet s sent is acknowledged and every
// credit returned, leaving only keepalives on the link.
func waitSettled(t *testing.T, s *Stack) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s.mutex.Lock()
		settled := s.layer.Outstanding() == 0 && s.layer.Credits() == HeaderBufferCount
		s.mutex.Unlock()
		if settled {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("link did not settle")
}

func TestStackRestart(t *testing.T) {
	pa, pb := loopback.NewPair(loopback.WithLFPSPeriod(20), loopback.WithDetectDuration(10))
	a := newTestStack(t, pa, SimulationConfig())
	cfg := SimulationConfig()
	cfg.DownstreamFacing = true
	b := newTestStack(t, pb, cfg)
	stacks := []*Stack{a, b}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for round := 0; round < 2; round++ {
		for _, s := range stacks {
			if err := s.Start(ctx); err != nil {
				t.Fatalf("round %d: Start() error = %v, want nil", round, err)
			}
		}
		for _, s := range stacks {
			if err := s.WaitReady(ctx); err != nil {
				t.Fatalf("round %d: WaitReady() error = %v", round, err)
			}
		}
		sendAll(t, ctx, a, b, 4*round, 4)
		waitSettled(t, a)
		for _, s := range stacks {
			if err := s.Stop(); err != nil {
				t.Errorf("round %d: Stop() error = %v, want nil", round, err)
			}
		}
	}
}

func TestStackData(t *testing.T) {
	pa, pb := loopback.NewPair(loopback.WithLFPSPeriod(20), loopback.WithDetectDuration(10))
	a := newTestStack(t, pa, SimulationConfig())
	cfg := SimulationConfig()
	cfg.DownstreamFacing = true
	b := newTestStack(t, pb, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range []*Stack{a, b} {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer s.Stop()
	}
	for _, s := range []*Stack{a, b} {
		if err := s.WaitReady(ctx); err != nil {
			t.Fatalf("WaitReady() error = %v", err)
		}
	}

	sizes := []int{8, 0, 100}
	sendErr := make(chan error, 1)
	go func() {
		for i, n := range sizes {
			if err := a.SendData(ctx, numbered(i), payloadOf(n, i)); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	for i, n := range sizes {
		dp, err := b.ReceiveData(ctx)
		if err != nil {
			t.Fatalf("ReceiveData() error = %v", err)
		}
		if dp.Header.DataLength() != n || !bytes.Equal(dp.Payload, payloadOf(n, i)) {
			t.Errorf("packet %d = %v with %d bytes, want %d bytes", i, dp.Header, len(dp.Payload), n)
		}
		if hp, err := b.Receive(ctx); err != nil || hp.DW1&0xFFFF != uint32(i) {
			t.Errorf("Receive() = %v, %v, want header %d", hp, err, i)
		}
	}
	if err := <-sendErr; err != nil {
		t.Errorf("SendData() error = %v", err)
	}
}
