// Package uart implements the serial side of the bridge: an interrupt
// driven transceiver that drains one ring buffer onto the wire and feeds
// received bytes into another.
//
// The hardware is reached only through [Peripheral], a register-level
// interface with level-triggered RXNE/TXE flags. Implementations live under
// hal/: a host implementation backed by an OS serial port and an in-memory
// simulator for tests.
//
// # Interrupt Model
//
// [Transceiver.HandleInterrupt] runs at a single fixed priority. Receive is
// always armed; each RXNE interrupt moves one byte into the inbound buffer
// with a one-byte Write, which wakes the inbound buffer's observer on the
// other side of the bridge. A hardware overrun is counted and the byte is
// lost.
//
// Transmit is armed on demand by [Transceiver.OnWrite] and disarmed by the
// interrupt handler when the outbound buffer runs dry.
package uart
