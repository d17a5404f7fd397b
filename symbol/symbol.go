// Package symbol defines the aligned symbol words exchanged between the
// link layer and the physical layer.
//
// A Word carries four 8-bit symbols. Byte 0 (the least significant byte)
// is the first symbol on the wire. Each byte is either a data symbol or a
// control (K) symbol; bit i of Ctrl is set when byte i is a control symbol.
package symbol

import "fmt"

// Symbol is a single 8b/10b-decoded symbol value.
type Symbol uint8

// K returns the value of control symbol K.x.y.
func K(x, y uint8) Symbol {
	return Symbol(y<<5 | x)
}

// D returns the value of data symbol D.x.y.
func D(x, y uint8) Symbol {
	return Symbol(y<<5 | x)
}

// Control symbols (USB 3.2 Spec Table 6-4).
var (
	SKP = K(28, 1) // Skip, clock tolerance compensation
	SDP = K(28, 2) // Start data packet payload
	EDB = K(28, 3) // End bad
	SUB = K(28, 4) // Decode error substitution
	COM = K(28, 5) // Comma, ordered set alignment
	RSD = K(28, 6) // Reserved
	SHP = K(27, 7) // Start header packet
	END = K(29, 7) // End
	SLC = K(30, 7) // Start link command
	EPF = K(23, 7) // End packet framing
)

// IDL is the logical idle data symbol.
var IDL = D(0, 0)

// BytesPerWord is the number of symbols carried by a Word.
const BytesPerWord = 4

// CtrlAll marks every byte of a word as a control symbol.
const CtrlAll = 0b1111

// Word is one aligned group of four symbols.
type Word struct {
	Data  uint32 // Symbols, first on the wire in the low byte
	Ctrl  uint8  // Control flags, bit i for byte i
	First bool   // First word of a framed unit
	Last  bool   // Last word of a framed unit
}

// Idle is the logical idle word.
var Idle = Word{}

// Of builds a word from up to four symbols, first symbol in byte 0.
// ctrl marks which of the given symbols are control symbols.
func Of(ctrl uint8, symbols ...Symbol) Word {
	var w Word
	for i, s := range symbols {
		if i >= BytesPerWord {
			break
		}
		w.Data |= uint32(s) << (8 * i)
	}
	w.Ctrl = ctrl & CtrlAll
	return w
}

// Control builds a word made entirely of control symbols.
func Control(symbols ...Symbol) Word {
	return Of(CtrlAll, symbols...)
}

// Byte returns symbol i of the word.
func (w Word) Byte(i int) Symbol {
	return Symbol(w.Data >> (8 * i))
}

// IsControl reports whether byte i is a control symbol.
func (w Word) IsControl(i int) bool {
	return w.Ctrl&(1<<i) != 0
}

// IsIdle reports whether the word is logical idle.
func (w Word) IsIdle() bool {
	return w.Data == 0 && w.Ctrl == 0
}

// HasControl reports whether any byte is a control symbol.
func (w Word) HasControl() bool {
	return w.Ctrl&CtrlAll != 0
}

// Matches reports whether the word carries the same symbols and control
// flags as other. Framing delimiters are ignored.
func (w Word) Matches(other Word) bool {
	return w.Data == other.Data && w.Ctrl&CtrlAll == other.Ctrl&CtrlAll
}

// Inverted returns the word with every data bit complemented, as seen by
// a receiver whose differential pair polarity is swapped.
func (w Word) Inverted() Word {
	w.Data = ^w.Data
	return w
}

// Framed returns a copy of the word with the given delimiters.
func (w Word) Framed(first, last bool) Word {
	w.First = first
	w.Last = last
	return w
}

// String returns a human-readable representation of the word.
func (w Word) String() string {
	return fmt.Sprintf("%08X/%04b", w.Data, w.Ctrl&CtrlAll)
}

// Framing markers (USB 3.2 Spec Section 7.2.4.1).
var (
	HeaderStart      = Control(SHP, SHP, SHP, EPF) // HPSTART
	LinkCommandStart = Control(SLC, SLC, SLC, EPF) // LCSTART
	DataStart        = Control(SDP, SDP, SDP, EPF) // DPPSTART
	DataEnd          = Control(END, END, END, EPF) // DPPEND
	DataAbort        = Control(EDB, EDB, EDB, EPF) // DPPABORT
)
