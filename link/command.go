package link

import (
	"fmt"

	"github.com/ardnew/softusb3/crc"
	"github.com/ardnew/softusb3/symbol"
)

// LinkCommand is the 4-bit command field of a link command: a 2-bit
// class in bits 2-3 and a 2-bit type in bits 0-1
// (USB 3.2 Spec Table 7-4).
type LinkCommand uint8

// Link commands.
const (
	LGOOD LinkCommand = 0x0 // Header received, subtype is its sequence number
	LCRD  LinkCommand = 0x1 // Header buffer credit, subtype is the credit index
	LRTY  LinkCommand = 0x2 // Header resend in progress
	LBAD  LinkCommand = 0x3 // Header received corrupted
	LGOU  LinkCommand = 0x4 // Request to enter Ux (LGO_U)
	LAU   LinkCommand = 0x5 // Accept Ux request
	LXU   LinkCommand = 0x6 // Reject Ux request
	LPMA  LinkCommand = 0x7 // Power management acknowledge
	LDN   LinkCommand = 0x8 // Keepalive from a downstream facing port
	LUP   LinkCommand = 0xB // Keepalive from an upstream facing port
)

// Link command classes.
const (
	ClassHeaderControl LinkCommand = 0 // LGOOD, LCRD, LRTY, LBAD
	ClassPowerControl  LinkCommand = 1 // LGO_U, LAU, LXU, LPMA
	ClassLinkState     LinkCommand = 2 // LDN, LUP
)

// Class returns the command class.
func (c LinkCommand) Class() LinkCommand {
	return (c >> 2) & 0x3
}

// Kind returns the command type within its class.
func (c LinkCommand) Kind() uint8 {
	return uint8(c & 0x3)
}

// String returns the command mnemonic.
func (c LinkCommand) String() string {
	switch c {
	case LGOOD:
		return "LGOOD"
	case LCRD:
		return "LCRD"
	case LRTY:
		return "LRTY"
	case LBAD:
		return "LBAD"
	case LGOU:
		return "LGO_U"
	case LAU:
		return "LAU"
	case LXU:
		return "LXU"
	case LPMA:
		return "LPMA"
	case LDN:
		return "LDN"
	case LUP:
		return "LUP"
	default:
		return fmt.Sprintf("cmd(0x%X)", uint8(c))
	}
}

// Command is a decoded link command.
type Command struct {
	Command LinkCommand
	Subtype uint8
}

// String returns a human-readable representation of the command.
func (c Command) String() string {
	switch c.Command {
	case LGOOD:
		return fmt.Sprintf("LGOOD_%d", c.Subtype)
	case LCRD:
		return fmt.Sprintf("LCRD_%c", 'A'+rune(c.Subtype&0x3))
	case LGOU:
		return fmt.Sprintf("LGO_U%d", c.Subtype)
	default:
		return c.Command.String()
	}
}

// Link command word layout (USB 3.2 Spec Figure 7-8).
const (
	commandSubtypeMask  = 0x000F
	commandReservedMask = 0x0070
	commandShift        = 7
	commandCRC5Shift    = 11
	commandProtected    = 0x07FF
)

// EncodeCommandWord returns the 16-bit link command word.
func EncodeCommandWord(c Command) uint16 {
	w := uint16(c.Subtype)&commandSubtypeMask | uint16(c.Command&0xF)<<commandShift
	return w | uint16(crc.CRC5(w))<<commandCRC5Shift
}

// DecodeCommandWord validates a 16-bit link command word.
func DecodeCommandWord(w uint16) (Command, bool) {
	if !crc.CheckCRC5(w&commandProtected, uint8(w>>commandCRC5Shift)) {
		return Command{}, false
	}
	if w&commandReservedMask != 0 {
		return Command{}, false
	}
	return Command{
		Command: LinkCommand(w>>commandShift) & 0xF,
		Subtype: uint8(w & commandSubtypeMask),
	}, true
}

// CommandWord returns the symbol word carrying c: the command word in
// both halves, no control symbols.
func CommandWord(c Command) symbol.Word {
	w := uint32(EncodeCommandWord(c))
	return symbol.Word{Data: w | w<<16, Last: true}
}

// CommandDetection is the result of one CommandDetector step.
type CommandDetection struct {
	Command  Command
	Detected bool // a valid command was decoded
	Fault    bool // the word after LCSTART was discarded
}

// CommandDetector recognizes link commands in the receive stream.
// Malformed commands are discarded and reported only as faults.
type CommandDetector struct {
	armed bool
}

// Reset returns the detector to scanning for LCSTART.
func (d *CommandDetector) Reset() {
	d.armed = false
}

// Tick consumes one received word.
func (d *CommandDetector) Tick(w symbol.Word) CommandDetection {
	if w.Matches(symbol.LinkCommandStart) {
		d.armed = true
		return CommandDetection{}
	}
	if !d.armed {
		return CommandDetection{}
	}
	d.armed = false

	lo, hi := uint16(w.Data), uint16(w.Data>>16)
	if w.HasControl() || lo != hi {
		return CommandDetection{Fault: true}
	}
	cmd, ok := DecodeCommandWord(lo)
	if !ok {
		return CommandDetection{Fault: true}
	}
	return CommandDetection{Command: cmd, Detected: true}
}

// CommandGenerator frames one link command at a time for transmission.
// The marker and the command word are each held until accepted.
type CommandGenerator struct {
	cmd  Command
	next int // 0 idle, 1 LCSTART pending, 2 command word pending
}

// Busy reports whether a command is still being transmitted.
func (g *CommandGenerator) Busy() bool {
	return g.next != 0
}

// Generate starts transmission of c. Returns false if busy.
func (g *CommandGenerator) Generate(c Command) bool {
	if g.Busy() {
		return false
	}
	g.cmd = c
	g.next = 1
	return true
}

// Reset abandons any command in progress.
func (g *CommandGenerator) Reset() {
	g.next = 0
}

// Offer returns the word currently presented downstream.
func (g *CommandGenerator) Offer() (symbol.Word, bool) {
	switch g.next {
	case 1:
		return symbol.LinkCommandStart.Framed(true, false), true
	case 2:
		return CommandWord(g.cmd), true
	default:
		return symbol.Word{}, false
	}
}

// Accept advances past the offered word. Returns true when the command
// word itself was accepted.
func (g *CommandGenerator) Accept() bool {
	switch g.next {
	case 1:
		g.next = 2
	case 2:
		g.next = 0
		return true
	}
	return false
}

// Current returns the command being transmitted.
func (g *CommandGenerator) Current() Command {
	return g.cmd
}
