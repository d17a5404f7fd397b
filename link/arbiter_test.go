package link

import (
	"testing"

	"github.com/ardnew/softusb3/symbol"
)

func TestArbiter(t *testing.T) {
	mid := offer{word: symbol.Of(0, 1), valid: true}
	last := offer{word: symbol.Of(0, 2).Framed(false, true), valid: true}
	none := offer{}

	tests := []struct {
		name   string
		rounds [][]offer
		want   []int
	}{
		{"priority", [][]offer{{none, last, last}, {last, last, none}}, []int{1, 0}},
		{"idle", [][]offer{{none, none}}, []int{-1}},
		{"grant held until last", [][]offer{{none, mid}, {last, mid}, {last, last}, {last, last}}, []int{1, 1, 1, 0}},
		{"grant released on withdraw", [][]offer{{none, mid}, {last, none}}, []int{1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArbiter()
			for i, offers := range tt.rounds {
				if got := a.pick(offers); got != tt.want[i] {
					t.Errorf("round %d: pick() = %d, want %d", i, got, tt.want[i])
				}
			}
		})
	}
}
