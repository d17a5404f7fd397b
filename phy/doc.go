// Package phy defines the physical layer interface for the softusb3 link
// layer.
//
// The PHY sits below the link layer and exchanges one aligned symbol word
// per symbol period in each direction. Alongside the data it reports link
// partner events ([Status]) and accepts directives ([Control]) such as
// receiver detection, LFPS polling and polarity inversion.
//
// # Implementations
//
//   - [github.com/ardnew/softusb3/phy/loopback]: two cross-connected
//     in-memory PHYs for tests and simulation
//   - [github.com/ardnew/softusb3/phy/fifo]: a PHY carried over named
//     pipes between two processes
//
// Transports without real electrical signalling emulate LFPS bursts and
// receiver detection with [LFPSGenerator] and [RxDetector].
//
// # Implementing a PHY
//
//  1. Create a type that implements all [PHY] methods
//  2. Handle transport setup in Init()
//  3. Move one word each way per Exchange call
//  4. Report strobes in [Status] for exactly one Exchange
//
// # Example
//
//	type MyPHY struct {
//	    // Transport-specific fields
//	}
//
//	func (p *MyPHY) Exchange(ctx context.Context, tx symbol.Word, ctl phy.Control) (symbol.Word, phy.Status, error) {
//	    // Transmit tx, receive one word
//	    return rx, status, nil
//	}
package phy
