package link

import "github.com/ardnew/softusb3/symbol"

// OrderedSet is a fixed training pattern of symbol words
// (USB 3.2 Spec Section 6.4.1).
type OrderedSet struct {
	Name      string
	Words     []uint32
	FirstCtrl uint8 // control flags of the first word; later words are data
	// ConfigWord is the index of the word whose byte 2 carries link
	// configuration, or -1. Only its low 16 bits are matched.
	ConfigWord int
}

// Training ordered sets.
var (
	TSEQ = OrderedSet{
		Name: "TSEQ",
		Words: []uint32{
			0xBCFF17C0, 0x14B2E702, 0x82726E28, 0xA6BE6DBF,
			0x4A4A4A4A, 0x4A4A4A4A, 0x4A4A4A4A, 0x4A4A4A4A,
		},
		FirstCtrl:  0b1000,
		ConfigWord: -1,
	}
	TS1 = OrderedSet{
		Name:       "TS1",
		Words:      []uint32{0xBCBCBCBC, 0x00004A4A, 0x4A4A4A4A, 0x4A4A4A4A},
		FirstCtrl:  symbol.CtrlAll,
		ConfigWord: 1,
	}
	TS2 = OrderedSet{
		Name:       "TS2",
		Words:      []uint32{0xBCBCBCBC, 0x00004545, 0x45454545, 0x45454545},
		FirstCtrl:  symbol.CtrlAll,
		ConfigWord: 1,
	}
)

// TrainingConfig is the link configuration field of TS1 and TS2
// (USB 3.2 Spec Table 6-6).
type TrainingConfig struct {
	HotReset          bool
	Loopback          bool
	DisableScrambling bool
}

const (
	configHotReset          = 1 << 0
	configLoopback          = 1 << 2
	configDisableScrambling = 1 << 3
	configShift             = 16
)

func (c TrainingConfig) byte() uint8 {
	var b uint8
	if c.HotReset {
		b |= configHotReset
	}
	if c.Loopback {
		b |= configLoopback
	}
	if c.DisableScrambling {
		b |= configDisableScrambling
	}
	return b
}

func parseTrainingConfig(b uint8) TrainingConfig {
	return TrainingConfig{
		HotReset:          b&configHotReset != 0,
		Loopback:          b&configLoopback != 0,
		DisableScrambling: b&configDisableScrambling != 0,
	}
}

// Word returns word i of the set as transmitted with the given
// configuration. First and Last delimit one repetition.
func (s OrderedSet) Word(i int, config TrainingConfig) symbol.Word {
	w := symbol.Word{
		Data:  s.Words[i],
		First: i == 0,
		Last:  i == len(s.Words)-1,
	}
	if i == 0 {
		w.Ctrl = s.FirstCtrl
	}
	if i == s.ConfigWord {
		w.Data = w.Data&0xFFFF | uint32(config.byte())<<configShift
	}
	return w
}

// matches reports whether received word w is word i of the set.
func (s OrderedSet) matches(i int, w symbol.Word, inverted bool) bool {
	data := w.Data
	if inverted {
		data = ^data
	}
	var ctrl uint8
	if i == 0 {
		ctrl = s.FirstCtrl
	}
	if w.Ctrl&symbol.CtrlAll != ctrl {
		return false
	}
	if i == s.ConfigWord {
		return data&0xFFFF == s.Words[i]&0xFFFF
	}
	return data == s.Words[i]
}

// OrderedSetDetector counts consecutive received repetitions of an
// ordered set and reports detection once a threshold is reached.
type OrderedSetDetector struct {
	set       OrderedSet
	inverted  bool
	threshold int

	index   int // next word expected
	count   int // consecutive complete sets
	pending TrainingConfig
	config  TrainingConfig
}

// NewOrderedSetDetector creates a detector for set. When inverted is set
// the detector matches the set as seen through swapped polarity.
func NewOrderedSetDetector(set OrderedSet, threshold int, inverted bool) *OrderedSetDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &OrderedSetDetector{set: set, threshold: threshold, inverted: inverted}
}

// Reset clears any partial match.
func (d *OrderedSetDetector) Reset() {
	d.index = 0
	d.count = 0
}

// Config returns the configuration carried by the last detected burst.
func (d *OrderedSetDetector) Config() TrainingConfig {
	return d.config
}

// Tick consumes one received word. Returns true on the word that
// completes the threshold-th consecutive set; counting then restarts.
func (d *OrderedSetDetector) Tick(w symbol.Word) bool {
	if !d.set.matches(d.index, w, d.inverted) {
		d.count = 0
		d.index = 0
		if d.set.matches(0, w, d.inverted) {
			d.index = 1
		}
		return false
	}
	if d.index == d.set.ConfigWord {
		data := w.Data
		if d.inverted {
			data = ^data
		}
		d.pending = parseTrainingConfig(uint8(data >> configShift))
	}
	d.index++
	if d.index < len(d.set.Words) {
		return false
	}
	d.index = 0
	d.count++
	if d.count < d.threshold {
		return false
	}
	d.count = 0
	d.config = d.pending
	return true
}

// OrderedSetEmitter transmits bursts of an ordered set.
type OrderedSetEmitter struct {
	set    OrderedSet
	burst  int
	config TrainingConfig

	active bool
	index  int // word within the current repetition
	rep    int // repetitions accepted in the current burst
}

// NewOrderedSetEmitter creates an emitter sending burst repetitions.
func NewOrderedSetEmitter(set OrderedSet, burst int) *OrderedSetEmitter {
	if burst < 1 {
		burst = 1
	}
	return &OrderedSetEmitter{set: set, burst: burst}
}

// SetConfig sets the configuration encoded into transmitted sets.
func (e *OrderedSetEmitter) SetConfig(c TrainingConfig) {
	e.config = c
}

// Active reports whether a burst is in progress.
func (e *OrderedSetEmitter) Active() bool {
	return e.active
}

// Offer returns the word currently presented downstream.
func (e *OrderedSetEmitter) Offer() (symbol.Word, bool) {
	if !e.active {
		return symbol.Word{}, false
	}
	return e.set.Word(e.index, e.config), true
}

// Tick advances the emitter. start is the level requesting bursts and
// accepted reports that the offered word was taken this tick. Returns
// true when the last word of the last repetition of a burst is accepted.
// While start stays asserted a new burst follows immediately; when it
// drops the emitter stops at the next repetition boundary.
func (e *OrderedSetEmitter) Tick(start, accepted bool) bool {
	done := false
	if e.active && accepted {
		e.index++
		if e.index == len(e.set.Words) {
			e.index = 0
			e.rep++
			if e.rep == e.burst {
				e.rep = 0
				done = true
			}
		}
	}
	if e.active && !start && e.index == 0 {
		e.active = false
		e.rep = 0
	}
	if !e.active && start {
		e.active = true
		e.index = 0
		e.rep = 0
	}
	return done
}
