package link

import "github.com/ardnew/softusb3/symbol"

// Idle handshake thresholds (USB 3.2 Spec Section 7.5.4.7): eight
// consecutive idle symbols received, then sixteen sent.
const (
	idleWordsReceived = 2
	idleWordsSent     = 4
)

// IdleHandshake confirms that both ends exchange logical idle before
// entering U0. It completes once consecutive idle words have been
// received and enough idle words have been sent after the first of them.
type IdleHandshake struct {
	run      int // consecutive idle words received
	seen     bool
	sinceRun int // ticks since the idle run reached its threshold
}

// Reset restarts the handshake.
func (h *IdleHandshake) Reset() {
	*h = IdleHandshake{}
}

// Tick consumes one received word while the handshake is enabled.
// Returns true once the handshake is complete.
func (h *IdleHandshake) Tick(enable bool, rx symbol.Word, rxElectricalIdle bool) bool {
	if !enable {
		h.Reset()
		return false
	}
	if rx.IsIdle() && !rxElectricalIdle {
		h.run++
	} else {
		h.run = 0
	}
	if !h.seen && h.run >= idleWordsReceived {
		h.seen = true
	}
	if h.seen {
		h.sinceRun++
	}
	return h.seen && h.sinceRun >= idleWordsSent
}
