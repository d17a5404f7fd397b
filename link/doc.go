// Package link implements a pure-Go USB 3.x SuperSpeed link layer.
//
// It sits between a protocol layer, which produces and consumes 16-byte
// header packets, and a physical layer reached through the [phy.PHY]
// interface. The link layer trains the link, keeps it operational, and
// delivers header packets reliably and in order under credit flow control.
//
// # Architecture
//
// The layer is a set of components stepped together once per symbol
// period by [Layer.Tick]:
//
//   - [LTSSM] walks the link training and status state machine
//   - [OrderedSetEmitter] and [OrderedSetDetector] send and recognize
//     TSEQ, TS1 and TS2 bursts during training
//   - [CommandGenerator] and [CommandDetector] frame and check link
//     commands (LGOOD, LCRD, LBAD, LRTY, ...)
//   - [HeaderTransmitter] sends header packets, holds credits and resends
//     after LBAD
//   - [HeaderReceiver] buffers header packets and schedules the commands
//     that acknowledge them and return credits
//   - [IdleHandshake] confirms logical idle before U0
//
// Every component registers its outputs at the end of a tick. Peers read
// them on the following tick only, so the result of a tick never depends
// on the order the components are evaluated in.
//
// [Stack] runs a Layer against a PHY on its own goroutine and offers
// blocking Send and Receive calls to other goroutines.
//
// # Link States
//
// Training follows the USB 3.2 LTSSM:
//
//	Rx.Detect.Reset → Rx.Detect.Active → Polling.LFPS → Polling.RxEQ →
//	Polling.Active → Polling.Configuration → Polling.Idle → U0
//
// Any state timeout restarts training. Faults in U0 (sequence mismatch,
// missing link commands, buffer overflow) force recovery through
// Rx.Detect.Reset. Unacknowledged packets survive recovery and are resent.
//
// # Flow Control
//
// Each side owns [HeaderBufferCount] receive buffers. After the link
// enters U0 each receiver advertises the last sequence number it accepted
// with one LGOOD, then one LCRD per free buffer. A transmitter may only
// send while it holds a credit; each received packet is acknowledged with
// LGOOD and its credit is returned with LCRD once consumed.
//
// A header that fails its CRC checks is answered with LBAD. The
// transmitter replies with LRTY and resends every unacknowledged packet
// with the Delayed bit set.
//
// # Data Packets
//
// [Layer.SendData] queues a data packet header with its payload. The
// payload follows the header in the same framed unit, shares its credit
// and is resent with it after LBAD. On receipt the header is delivered by
// [Layer.Receive] as usual, and [Layer.ReceiveData] returns it again
// together with the payload once the payload CRC-32 checks.
//
// # Usage
//
//	layer, err := link.NewLayer(link.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	stack := link.NewStack(layer, myPHY)
//	if err := stack.Start(ctx); err != nil {
//	    return err
//	}
//	defer stack.Stop()
//
//	if err := stack.WaitReady(ctx); err != nil {
//	    return err
//	}
//	err = stack.Send(ctx, link.HeaderPacket{DW0: uint32(link.PacketTypeTransaction)})
//
// Layer itself is not safe for concurrent use. Tests and simulations may
// step two layers directly over a [github.com/ardnew/softusb3/phy/loopback]
// pair using [SimulationConfig].
package link
