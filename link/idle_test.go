package link

import (
	"testing"

	"github.com/ardnew/softusb3/symbol"
)

func TestIdleHandshake(t *testing.T) {
	busy := symbol.Of(0, 0x12)
	tests := []struct {
		name     string
		words    []symbol.Word
		elecIdle bool
		want     int // tick index of completion, -1 if never
	}{
		{"idle stream", []symbol.Word{symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle}, false, 4},
		{"run interrupted", []symbol.Word{symbol.Idle, busy, symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle}, false, 6},
		{"electrical idle", []symbol.Word{symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle, symbol.Idle}, true, -1},
		{"busy after run", []symbol.Word{symbol.Idle, symbol.Idle, busy, busy, busy}, false, 4},
		{"too short", []symbol.Word{symbol.Idle, symbol.Idle, symbol.Idle}, false, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h IdleHandshake
			got := -1
			for i, w := range tt.words {
				if h.Tick(true, w, tt.elecIdle) && got < 0 {
					got = i
				}
			}
			if got != tt.want {
				t.Errorf("handshake complete at %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIdleHandshakeDisabled(t *testing.T) {
	var h IdleHandshake
	h.Tick(true, symbol.Idle, false)
	h.Tick(true, symbol.Idle, false)
	if h.Tick(false, symbol.Idle, false) {
		t.Error("Tick() = true while disabled, want false")
	}
	for i := 0; i < 3; i++ {
		if h.Tick(true, symbol.Idle, false) {
			t.Fatalf("Tick() = true at %d after disable, want restart", i)
		}
	}
}
