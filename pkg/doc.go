// Package pkg provides shared utilities for the softusb3 link layer.
//
// This package contains common functionality used by the link, phy and
// example packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for link faults
//   - Fault classification used by link statistics
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentLTSSM, "state transition", "from", "Polling.Idle", "to", "U0")
//
// # Errors
//
// Link faults are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrNoCredit) {
//	    // Wait for the partner to free a header buffer
//	}
package pkg
