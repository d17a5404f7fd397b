package link

import (
	"fmt"
	"math"
	"time"

	"github.com/ardnew/softusb3/pkg"
)

// HeaderBufferCount is the number of header packet buffers each side
// keeps per direction (USB 3.2 Spec Section 7.2.4.1.3, Gen1).
const HeaderBufferCount = 4

// SymbolClockGen1 is the Gen1 word clock: 5 Gbps, 8b/10b, four symbols
// per word.
const SymbolClockGen1 = 125e6

// Config holds the tunable parameters of a link layer.
// Durations are converted to ticks of the symbol clock.
type Config struct {
	// ClockFrequency is the rate at which Layer.Tick is called, in Hz.
	ClockFrequency float64

	// DownstreamFacing selects the keepalive command: LDN when set
	// (host or hub downstream port), LUP otherwise.
	DownstreamFacing bool

	// DisableScrambling requests no scrambling in transmitted TS2.
	DisableScrambling bool

	// Ordered set burst lengths, in repetitions.
	TSEQBurstLength int
	TS1BurstLength  int
	TS2BurstLength  int

	// Consecutive ordered sets required for detection.
	TSEQDetectThreshold int
	TSDetectThreshold   int

	// LFPS polling handshake counts.
	LFPSMinBursts     int
	LFPSBurstsAfterRx int

	// LTSSM state time bounds.
	QuietTimeout      time.Duration // Rx.Detect.Quiet
	DetectTimeout     time.Duration // Rx.Detect.Active
	LFPSTimeout       time.Duration // Polling.LFPS
	RxEQTimeout       time.Duration // Polling.RxEQ
	PollingTimeout    time.Duration // Polling.Active, Polling.Configuration
	IdleTimeout       time.Duration // Polling.Idle
	ComplianceTimeout time.Duration // Compliance

	// Link maintenance timers.
	KeepaliveInterval    time.Duration
	LinkCommandTimeout   time.Duration
	PendingHeaderTimeout time.Duration
}

// DefaultConfig returns the Gen1 configuration.
func DefaultConfig() Config {
	return Config{
		ClockFrequency:       SymbolClockGen1,
		TSEQBurstLength:      65536,
		TS1BurstLength:       16,
		TS2BurstLength:       16,
		TSEQDetectThreshold:  32,
		TSDetectThreshold:    8,
		LFPSMinBursts:        16,
		LFPSBurstsAfterRx:    4,
		QuietTimeout:         12 * time.Millisecond,
		DetectTimeout:        12 * time.Millisecond,
		LFPSTimeout:          360 * time.Millisecond,
		RxEQTimeout:          12 * time.Millisecond,
		PollingTimeout:       12 * time.Millisecond,
		IdleTimeout:          2 * time.Millisecond,
		ComplianceTimeout:    12 * time.Millisecond,
		KeepaliveInterval:    10 * time.Microsecond,
		LinkCommandTimeout:   time.Millisecond,
		PendingHeaderTimeout: 5 * time.Millisecond,
	}
}

// SimulationConfig returns a configuration for emulated PHYs: a 1 MHz
// tick clock with short ordered set bursts and state timeouts, so two
// link layers train in under a thousand ticks.
func SimulationConfig() Config {
	return Config{
		ClockFrequency:       1e6,
		TSEQBurstLength:      64,
		TS1BurstLength:       16,
		TS2BurstLength:       16,
		TSEQDetectThreshold:  8,
		TSDetectThreshold:    4,
		LFPSMinBursts:        4,
		LFPSBurstsAfterRx:    2,
		QuietTimeout:         100 * time.Microsecond,
		DetectTimeout:        100 * time.Microsecond,
		LFPSTimeout:          2 * time.Millisecond,
		RxEQTimeout:          2 * time.Millisecond,
		PollingTimeout:       2 * time.Millisecond,
		IdleTimeout:          200 * time.Microsecond,
		ComplianceTimeout:    200 * time.Microsecond,
		KeepaliveInterval:    10 * time.Microsecond,
		LinkCommandTimeout:   time.Millisecond,
		PendingHeaderTimeout: 500 * time.Microsecond,
	}
}

// Validate checks the configuration for values the link cannot run with.
func (c Config) Validate() error {
	if c.ClockFrequency <= 0 {
		return fmt.Errorf("clock frequency %v: %w", c.ClockFrequency, pkg.ErrInvalidParameter)
	}
	for name, n := range map[string]int{
		"TSEQ burst length":      c.TSEQBurstLength,
		"TS1 burst length":       c.TS1BurstLength,
		"TS2 burst length":       c.TS2BurstLength,
		"TSEQ detect threshold":  c.TSEQDetectThreshold,
		"TS detect threshold":    c.TSDetectThreshold,
		"LFPS minimum bursts":    c.LFPSMinBursts,
		"LFPS bursts after seen": c.LFPSBurstsAfterRx,
	} {
		if n <= 0 {
			return fmt.Errorf("%s %d: %w", name, n, pkg.ErrInvalidParameter)
		}
	}
	for name, d := range map[string]time.Duration{
		"quiet timeout":          c.QuietTimeout,
		"detect timeout":         c.DetectTimeout,
		"LFPS timeout":           c.LFPSTimeout,
		"RxEQ timeout":           c.RxEQTimeout,
		"polling timeout":        c.PollingTimeout,
		"idle timeout":           c.IdleTimeout,
		"compliance timeout":     c.ComplianceTimeout,
		"keepalive interval":     c.KeepaliveInterval,
		"link command timeout":   c.LinkCommandTimeout,
		"pending header timeout": c.PendingHeaderTimeout,
	} {
		if c.Ticks(d) == 0 {
			return fmt.Errorf("%s %v shorter than one tick: %w", name, d, pkg.ErrInvalidParameter)
		}
	}
	if c.Ticks(c.KeepaliveInterval) >= c.Ticks(c.LinkCommandTimeout) {
		return fmt.Errorf("keepalive interval %v not below link command timeout %v: %w",
			c.KeepaliveInterval, c.LinkCommandTimeout, pkg.ErrInvalidParameter)
	}
	return nil
}

// Ticks converts a duration to the nearest whole number of symbol clock
// ticks.
func (c Config) Ticks(d time.Duration) uint64 {
	if d <= 0 || c.ClockFrequency <= 0 {
		return 0
	}
	return uint64(math.Round(d.Seconds() * c.ClockFrequency))
}
