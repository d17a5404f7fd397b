package link

import (
	"testing"

	"github.com/ardnew/softusb3/symbol"
)

func TestEncodeCommandWord(t *testing.T) {
	tests := []struct {
		cmd  Command
		want uint16
	}{
		{Command{LGOOD, 0}, 0x1000},
		{Command{LGOOD, 7}, 0x6807},
		{Command{LCRD, 0}, 0xA080},
		{Command{LCRD, 3}, 0xE083},
		{Command{LRTY, 0}, 0x3900},
		{Command{LBAD, 0}, 0x8980},
		{Command{LDN, 0}, 0xB400},
		{Command{LUP, 0}, 0x2D80},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			if got := EncodeCommandWord(tt.cmd); got != tt.want {
				t.Errorf("EncodeCommandWord(%v) = 0x%04X, want 0x%04X", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestCommandWord(t *testing.T) {
	w := CommandWord(Command{LGOOD, 7})
	if w.Data != 0x68076807 || w.Ctrl != 0 || !w.Last {
		t.Errorf("CommandWord(LGOOD_7) = %v last=%v, want 68076807/0000 last=true", w, w.Last)
	}
}

func TestDecodeCommandWord(t *testing.T) {
	for _, c := range []LinkCommand{LGOOD, LCRD, LRTY, LBAD, LGOU, LAU, LXU, LPMA, LDN, LUP} {
		for sub := uint8(0); sub < 16; sub++ {
			cmd := Command{c, sub}
			w := EncodeCommandWord(cmd)
			got, ok := DecodeCommandWord(w)
			if !ok || got != cmd {
				t.Fatalf("DecodeCommandWord(0x%04X) = %v, %v, want %v, true", w, got, ok, cmd)
			}
			for bit := 0; bit < 16; bit++ {
				if _, ok := DecodeCommandWord(w ^ 1<<bit); ok {
					t.Fatalf("DecodeCommandWord accepted %v with bit %d flipped", cmd, bit)
				}
			}
		}
	}
}

func TestLinkCommandClass(t *testing.T) {
	tests := []struct {
		cmd   LinkCommand
		class LinkCommand
		kind  uint8
	}{
		{LGOOD, ClassHeaderControl, 0},
		{LBAD, ClassHeaderControl, 3},
		{LGOU, ClassPowerControl, 0},
		{LPMA, ClassPowerControl, 3},
		{LDN, ClassLinkState, 0},
		{LUP, ClassLinkState, 3},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			if got := tt.cmd.Class(); got != tt.class {
				t.Errorf("Class() = %d, want %d", got, tt.class)
			}
			if got := tt.cmd.Kind(); got != tt.kind {
				t.Errorf("Kind() = %d, want %d", got, tt.kind)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{LGOOD, 5}, "LGOOD_5"},
		{Command{LCRD, 2}, "LCRD_C"},
		{Command{LGOU, 1}, "LGO_U1"},
		{Command{LXU, 0}, "LXU"},
		{Command{LinkCommand(0xE), 0}, "cmd(0xE)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandDetector(t *testing.T) {
	good := CommandWord(Command{LCRD, 2})
	split := good
	split.Data = good.Data&0xFFFF | 0x1000<<16
	ctrl := good
	ctrl.Ctrl = 0b0001

	tests := []struct {
		name  string
		words []symbol.Word
		want  CommandDetection
	}{
		{"valid", []symbol.Word{symbol.LinkCommandStart, good}, CommandDetection{Command: Command{LCRD, 2}, Detected: true}},
		{"not armed", []symbol.Word{symbol.Idle, good}, CommandDetection{}},
		{"halves differ", []symbol.Word{symbol.LinkCommandStart, split}, CommandDetection{Fault: true}},
		{"control symbol", []symbol.Word{symbol.LinkCommandStart, ctrl}, CommandDetection{Fault: true}},
		{"bad CRC5", []symbol.Word{symbol.LinkCommandStart, {Data: 0x10011001}}, CommandDetection{Fault: true}},
		{"restart", []symbol.Word{symbol.LinkCommandStart, symbol.LinkCommandStart, good}, CommandDetection{Command: Command{LCRD, 2}, Detected: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d CommandDetector
			var got CommandDetection
			for _, w := range tt.words {
				got = d.Tick(w)
			}
			if got != tt.want {
				t.Errorf("Tick() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCommandDetectorDisarms(t *testing.T) {
	var d CommandDetector
	d.Tick(symbol.LinkCommandStart)
	d.Tick(symbol.Idle)
	if got := d.Tick(CommandWord(Command{LUP, 0})); got.Detected || got.Fault {
		t.Errorf("Tick() after disarm = %+v, want none", got)
	}
}

func TestCommandGenerator(t *testing.T) {
	var g CommandGenerator
	if _, ok := g.Offer(); ok {
		t.Fatal("Offer() on idle generator = valid, want none")
	}
	if !g.Generate(Command{LGOOD, 3}) {
		t.Fatal("Generate() = false on idle generator")
	}
	if g.Generate(Command{LCRD, 0}) {
		t.Error("Generate() = true while busy, want false")
	}

	w, ok := g.Offer()
	if !ok || !w.Matches(symbol.LinkCommandStart) || !w.First {
		t.Errorf("Offer() = %v, %v, want framed LCSTART", w, ok)
	}
	// Not accepted: the same word stays offered.
	if w2, _ := g.Offer(); w2 != w {
		t.Errorf("Offer() changed without Accept: %v, want %v", w2, w)
	}
	if g.Accept() {
		t.Error("Accept() of LCSTART = true, want false")
	}

	w, ok = g.Offer()
	if !ok || w != CommandWord(Command{LGOOD, 3}) {
		t.Errorf("Offer() = %v, want LGOOD_3 word", w)
	}
	if !g.Accept() {
		t.Error("Accept() of command word = false, want true")
	}
	if g.Busy() {
		t.Error("Busy() = true after command sent, want false")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	var g CommandGenerator
	var d CommandDetector
	for _, cmd := range []Command{{LGOOD, 6}, {LCRD, 1}, {LRTY, 0}, {LBAD, 0}, {LXU, 0}, {LUP, 0}} {
		g.Generate(cmd)
		var got CommandDetection
		for g.Busy() {
			w, _ := g.Offer()
			got = d.Tick(w)
			g.Accept()
		}
		if !got.Detected || got.Command != cmd {
			t.Errorf("detected %+v, want %v", got, cmd)
		}
	}
}
