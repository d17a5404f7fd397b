package phy

// LFPS polling timing in symbol periods at the Gen1 word clock
// (USB 3.2 Spec Table 6-30: tBurst 1us, tRepeat 10us).
const (
	DefaultLFPSPeriod     = 1250
	DefaultDetectDuration = 125
)

// LFPSGenerator paces polling LFPS bursts for transports that carry
// them as in-band flags.
type LFPSGenerator struct {
	Period int // symbol periods between bursts

	count int
}

// Tick advances one symbol period. Returns true when a burst starts.
func (g *LFPSGenerator) Tick(send bool) bool {
	if !send {
		g.count = 0
		return false
	}
	period := g.Period
	if period <= 0 {
		period = DefaultLFPSPeriod
	}
	burst := g.count == 0
	g.count++
	if g.count >= period {
		g.count = 0
	}
	return burst
}

// RxDetector emulates receiver termination detection. While detection is
// requested it reports one result every Duration symbol periods.
type RxDetector struct {
	Duration int

	count int
}

// Tick advances one symbol period. present reports whether the partner
// terminations are engaged.
func (d *RxDetector) Tick(perform, present bool) (detected, notDetected bool) {
	if !perform {
		d.count = 0
		return false, false
	}
	duration := d.Duration
	if duration <= 0 {
		duration = DefaultDetectDuration
	}
	d.count++
	if d.count < duration {
		return false, false
	}
	d.count = 0
	return present, !present
}
