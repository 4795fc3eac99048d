// Package pkg provides shared utilities for the cdcuart bridge.
//
// This package contains common functionality used by the ring buffer, the
// UART transceiver, the USB engine and the CDC bridge:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCDC, "line state", "dtr", true)
//
// Nothing that can run at interrupt priority logs. Only foreground state
// transitions (configuration, control line changes, faults) do.
//
// # Errors
//
// Errors are defined as sentinel values and wrapped at package boundaries:
//
//	if errors.Is(err, pkg.ErrNotPowerOfTwo) {
//	    // fix the storage size
//	}
package pkg
