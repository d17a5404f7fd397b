package link

import (
	"testing"

	"github.com/ardnew/softusb3/symbol"
)

// emit runs an emitter with start held and every word accepted, returning
// the words produced and the index of each word that completed a burst.
func emit(e *OrderedSetEmitter, n int) (words []symbol.Word, done []int) {
	e.Tick(true, false)
	for i := 0; i < n; i++ {
		w, ok := e.Offer()
		if !ok {
			break
		}
		words = append(words, w)
		if e.Tick(true, true) {
			done = append(done, i)
		}
	}
	return words, done
}

func TestOrderedSetWord(t *testing.T) {
	tests := []struct {
		name  string
		set   OrderedSet
		i     int
		cfg   TrainingConfig
		want  uint32
		ctrl  uint8
		first bool
		last  bool
	}{
		{"TS1 first", TS1, 0, TrainingConfig{}, 0xBCBCBCBC, 0b1111, true, false},
		{"TS1 config", TS1, 1, TrainingConfig{HotReset: true}, 0x00014A4A, 0, false, false},
		{"TS2 config", TS2, 1, TrainingConfig{DisableScrambling: true, Loopback: true}, 0x000C4545, 0, false, false},
		{"TS2 last", TS2, 3, TrainingConfig{}, 0x45454545, 0, false, true},
		{"TSEQ first", TSEQ, 0, TrainingConfig{}, 0xBCFF17C0, 0b1000, true, false},
		{"TSEQ config ignored", TSEQ, 1, TrainingConfig{HotReset: true}, 0x14B2E702, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.set.Word(tt.i, tt.cfg)
			if w.Data != tt.want || w.Ctrl != tt.ctrl {
				t.Errorf("Word(%d) = %v, want %08X/%04b", tt.i, w, tt.want, tt.ctrl)
			}
			if w.First != tt.first || w.Last != tt.last {
				t.Errorf("Word(%d) first/last = %v/%v, want %v/%v", tt.i, w.First, w.Last, tt.first, tt.last)
			}
		})
	}
}

func TestOrderedSetEmitterBurst(t *testing.T) {
	e := NewOrderedSetEmitter(TS1, 3)
	words, done := emit(e, 30)

	if len(done) < 2 || done[0] != 11 || done[1] != 23 {
		t.Errorf("burst done at %v, want [11 23 ...]", done)
	}
	for i, w := range words {
		want := TS1.Word(i%4, TrainingConfig{})
		if w != want {
			t.Fatalf("word %d = %v, want %v", i, w, want)
		}
	}
}

func TestOrderedSetEmitterHoldsUntilAccepted(t *testing.T) {
	e := NewOrderedSetEmitter(TS2, 1)
	e.Tick(true, false)
	first, _ := e.Offer()
	for i := 0; i < 3; i++ {
		if e.Tick(true, false) {
			t.Fatal("Tick() reported done without accepting")
		}
	}
	if w, _ := e.Offer(); w != first {
		t.Errorf("Offer() = %v after stalls, want %v", w, first)
	}
}

func TestOrderedSetEmitterStopsAtBoundary(t *testing.T) {
	e := NewOrderedSetEmitter(TS1, 16)
	e.Tick(true, false)
	e.Tick(true, true)
	e.Tick(true, true)

	// Start drops after two words: the repetition still completes.
	for i := 0; i < 2; i++ {
		if !e.Active() {
			t.Fatalf("Active() = false after %d words, want true", 2+i)
		}
		e.Tick(false, true)
	}
	if e.Active() {
		t.Error("Active() = true at repetition boundary with start low, want false")
	}
	if _, ok := e.Offer(); ok {
		t.Error("Offer() valid after stop, want none")
	}
}

func TestOrderedSetDetector(t *testing.T) {
	tests := []struct {
		name      string
		set       OrderedSet
		threshold int
		inverted  bool
		invert    bool
		want      int // word index of the first detection, -1 for none
	}{
		{"TS1", TS1, 4, false, false, 15},
		{"TS2 threshold 1", TS2, 1, false, false, 3},
		{"TSEQ", TSEQ, 2, false, false, 15},
		{"inverted TS1", TS1, 4, true, true, 15},
		{"inverted stream normal detector", TS1, 4, false, true, -1},
		{"normal stream inverted detector", TS1, 4, true, false, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, _ := emit(NewOrderedSetEmitter(tt.set, 8), 4*len(tt.set.Words))
			d := NewOrderedSetDetector(tt.set, tt.threshold, tt.inverted)
			got := -1
			for i, w := range words {
				if tt.invert {
					w = w.Inverted()
				}
				if d.Tick(w) && got < 0 {
					got = i
				}
			}
			if got != tt.want {
				t.Errorf("first detection at word %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOrderedSetDetectorInterrupted(t *testing.T) {
	d := NewOrderedSetDetector(TS1, 4, false)
	set := func(n int) bool {
		detected := false
		for r := 0; r < n; r++ {
			for i := range TS1.Words {
				if d.Tick(TS1.Word(i, TrainingConfig{})) {
					detected = true
				}
			}
		}
		return detected
	}

	if set(3) {
		t.Fatal("detected after 3 sets, want none")
	}
	d.Tick(symbol.Idle)
	if set(3) {
		t.Fatal("detected after interruption and 3 sets, want none")
	}
	if !set(1) {
		t.Error("not detected after 4 consecutive sets")
	}
}

func TestOrderedSetDetectorResyncs(t *testing.T) {
	// A set starting on the word that broke a partial match is counted.
	d := NewOrderedSetDetector(TS1, 1, false)
	d.Tick(TS1.Word(0, TrainingConfig{}))
	d.Tick(TS1.Word(1, TrainingConfig{}))

	detected := false
	for i := range TS1.Words {
		if d.Tick(TS1.Word(i, TrainingConfig{})) {
			detected = true
		}
	}
	if !detected {
		t.Error("set after broken partial match not detected")
	}
}

func TestOrderedSetDetectorConfig(t *testing.T) {
	cfg := TrainingConfig{HotReset: true, DisableScrambling: true}
	e := NewOrderedSetEmitter(TS2, 8)
	e.SetConfig(cfg)
	words, _ := emit(e, 16)

	d := NewOrderedSetDetector(TS2, 4, false)
	detected := false
	for _, w := range words {
		if d.Tick(w) {
			detected = true
		}
	}
	if !detected {
		t.Fatal("TS2 not detected")
	}
	if got := d.Config(); got != cfg {
		t.Errorf("Config() = %+v, want %+v", got, cfg)
	}
}
