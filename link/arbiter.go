package link

import "github.com/ardnew/softusb3/symbol"

// offer is one stream source's candidate word for a tick.
type offer struct {
	word  symbol.Word
	valid bool
}

// arbiter grants the transmit stream to one source per tick. Sources are
// listed in priority order. A grant is held until the granted source
// delivers a word marked Last or withdraws, so framed units are never
// interleaved.
type arbiter struct {
	owner int
}

func newArbiter() arbiter {
	return arbiter{owner: -1}
}

// pick returns the index of the granted source, or -1 if none is valid.
func (a *arbiter) pick(offers []offer) int {
	g := -1
	if a.owner >= 0 && offers[a.owner].valid {
		g = a.owner
	} else {
		for i, o := range offers {
			if o.valid {
				g = i
				break
			}
		}
	}
	a.owner = -1
	if g >= 0 && !offers[g].word.Last {
		a.owner = g
	}
	return g
}
