package phy

import (
	"context"

	"github.com/ardnew/softusb3/symbol"
)

// Status carries the physical layer events for one symbol period.
// Fields ending in Detected or Sent are strobes, valid for one Exchange.
type Status struct {
	Ready      bool // transceiver initialized and locked
	InUSBReset bool // reset signalling present on the bus
	WarmReset  bool // warm reset LFPS received

	LinkPartnerDetected   bool // receiver detection found terminations
	NoLinkPartnerDetected bool // receiver detection found none

	LFPSBurstSent       bool // one polling LFPS burst left the transmitter
	LFPSPollingDetected bool // one polling LFPS burst arrived from the partner

	RxElectricalIdle bool // the partner is not driving the line
}

// Control carries the link layer directives for one symbol period.
type Control struct {
	PerformRxDetection bool
	SendLFPSPolling    bool
	TxElectricalIdle   bool
	EngageTerminations bool
	EnableScrambling   bool
	InvertRxPolarity   bool
	TrainEqualizer     bool
	TrainAlignment     bool
}

// PHY defines the physical layer interface consumed by the link layer.
//
// A PHY moves one aligned symbol word in each direction per symbol
// period. The link layer implements all training and flow control logic,
// leaving the PHY to handle electrical signalling, encoding, scrambling
// and clock compensation.
type PHY interface {
	// Init prepares the transport.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start enables the transmitter and receiver.
	Start() error

	// Stop disables the transmitter and receiver.
	Stop() error

	// Exchange transmits tx under the directives in ctl and returns the
	// word received in the same symbol period with the current status.
	// Blocks until the symbol period completes or the context is cancelled.
	Exchange(ctx context.Context, tx symbol.Word, ctl Control) (symbol.Word, Status, error)
}
