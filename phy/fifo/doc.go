// Package fifo implements a PHY that carries symbol words between two
// processes over named pipes (FIFOs).
//
// It is intended for testing and simulation: two link layers, each in
// its own process, train and exchange header packets without hardware.
//
// # Architecture
//
// Both ends share a link directory holding one FIFO per direction:
//
//	/tmp/usb3-link/
//	├── upstream_to_downstream    # words sent by the upstream facing port
//	└── downstream_to_upstream    # words sent by the downstream facing port
//
// Whichever end initializes first creates the FIFOs. Each end opens both
// with O_RDWR|O_NONBLOCK so neither open blocks waiting for the partner.
//
// # Wire Format
//
// Every symbol period is one fixed 6-byte frame:
//
//	[data(4, little-endian), ctrl, flags]
//
// The flags byte carries the framing delimiters and the out-of-band
// physical layer signals (LFPS burst, terminations, electrical idle,
// warm reset) the link layer needs for training.
//
// # Lockstep
//
// Exchange writes one frame and reads one frame, so both ends advance
// one symbol period at a time. If the partner does not answer within
// the peer timeout, the period completes as if the line were idle with
// no terminations present, and receiver detection fails. Once the
// partner has answered, the longer loss timeout applies instead.
//
// # Usage
//
//	p := fifo.New("/tmp/usb3-link", fifo.RoleUpstream)
//	layer, _ := link.NewLayer(cfg)
//	stack := link.NewStack(layer, p)
//	stack.Start(ctx)
package fifo
