package pkg

import "errors"

// Link layer errors.
var (
	// ErrNoCredit indicates the remote receiver has no free header buffer.
	ErrNoCredit = errors.New("no header credit available")

	// ErrLinkNotReady indicates the link has not reached U0.
	ErrLinkNotReady = errors.New("link not ready")

	// ErrSequenceMismatch indicates a header or acknowledgement arrived
	// out of sequence.
	ErrSequenceMismatch = errors.New("sequence number mismatch")

	// ErrCreditMismatch indicates an LCRD arrived with an unexpected index.
	ErrCreditMismatch = errors.New("credit index mismatch")

	// ErrBadPacket indicates a header packet failed its CRC checks.
	ErrBadPacket = errors.New("bad header packet")

	// ErrFraming indicates a malformed link command or packet framing.
	ErrFraming = errors.New("framing error")

	// ErrTrainingTimeout indicates an LTSSM state exceeded its time bound.
	ErrTrainingTimeout = errors.New("link training timeout")

	// ErrBufferOverflow indicates a header arrived with every buffer full.
	ErrBufferOverflow = errors.New("header buffer overflow")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrCancelled indicates a cancelled operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotConfigured indicates a required component was not provided.
	ErrNotConfigured = errors.New("not configured")

	// ErrPHY indicates the physical layer transport failed.
	ErrPHY = errors.New("physical layer failure")
)

// FaultKind classifies a link fault by how the link recovers from it.
type FaultKind int

// Fault kinds.
const (
	FaultNone       FaultKind = iota // No fault
	FaultTransient                   // Header CRC failure, retried with LBAD/LRTY
	FaultSequencing                  // Sequence bookkeeping diverged, link recovery
	FaultFraming                     // Malformed link command, discarded
	FaultTraining                    // LTSSM state timed out, training restarts
	FaultOverflow                    // Header received with no free buffer, link recovery
	FaultCredit                      // LCRD out of order or beyond the buffer count, link recovery
)

// String returns a string representation of the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultTransient:
		return "transient"
	case FaultSequencing:
		return "sequencing"
	case FaultFraming:
		return "framing"
	case FaultTraining:
		return "training"
	case FaultOverflow:
		return "overflow"
	case FaultCredit:
		return "credit"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the fault kind.
func (k FaultKind) Error() error {
	switch k {
	case FaultNone:
		return nil
	case FaultTransient:
		return ErrBadPacket
	case FaultSequencing:
		return ErrSequenceMismatch
	case FaultFraming:
		return ErrFraming
	case FaultTraining:
		return ErrTrainingTimeout
	case FaultOverflow:
		return ErrBufferOverflow
	case FaultCredit:
		return ErrCreditMismatch
	default:
		return ErrInvalidParameter
	}
}

// RequiresRecovery reports whether the fault forces the link back
// through training.
func (k FaultKind) RequiresRecovery() bool {
	return k == FaultSequencing || k == FaultOverflow || k == FaultCredit
}
