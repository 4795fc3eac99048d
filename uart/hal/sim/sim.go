// Package sim provides an in-memory UART peripheral.
//
// The simulator runs the interrupt handler synchronously from the call that
// raised the condition, the way a hardware interrupt preempts the code that
// caused it. Nothing happens in the background, so tests drive the wire
// explicitly with Inject and Tick.
package sim

import (
	"sync"

	"github.com/ardnew/cdcuart/uart"
)

// UART is a simulated peripheral with a one-byte receive register and a
// one-byte transmit register.
type UART struct {
	mu sync.Mutex

	cfg        uart.Config
	configured bool
	handler    func()

	rxData byte
	rxFull bool
	ore    bool
	rxie   bool

	txData    byte
	txPending bool // a byte sits in the transmit register
	txie      bool

	wire []byte

	inISR bool
}

// New returns an idle simulated UART.
func New() *UART {
	return &UART{}
}

// Configure implements uart.Peripheral.
func (u *UART) Configure(cfg uart.Config) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cfg = cfg
	u.configured = true
	return nil
}

// Config returns the last applied configuration.
func (u *UART) Config() (uart.Config, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg, u.configured
}

// SetHandler implements uart.Peripheral.
func (u *UART) SetHandler(isr func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = isr
}

// Status implements uart.Peripheral.
func (u *UART) Status() uart.Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status()
}

func (u *UART) status() uart.Status {
	var st uart.Status
	if u.rxFull {
		st |= uart.StatusRXNE
	}
	if !u.txPending {
		st |= uart.StatusTXE
	}
	if u.ore {
		st |= uart.StatusORE
	}
	return st
}

// ReadData implements uart.Peripheral.
func (u *UART) ReadData() byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rxFull = false
	u.ore = false
	return u.rxData
}

// WriteData implements uart.Peripheral.
func (u *UART) WriteData(c byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.txData = c
	u.txPending = true
}

// EnableTxInterrupt implements uart.Peripheral. Unmasking with TXE already
// set raises the interrupt immediately.
func (u *UART) EnableTxInterrupt() {
	u.mu.Lock()
	was := u.txie
	u.txie = true
	u.mu.Unlock()
	if !was {
		u.raise()
	}
}

// DisableTxInterrupt implements uart.Peripheral.
func (u *UART) DisableTxInterrupt() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.txie = false
}

// TxInterruptEnabled implements uart.Peripheral.
func (u *UART) TxInterruptEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.txie
}

// EnableRxInterrupt implements uart.Peripheral.
func (u *UART) EnableRxInterrupt() {
	u.mu.Lock()
	u.rxie = true
	u.mu.Unlock()
	u.raise()
}

// Inject delivers one byte on the receive line. If the previous byte has
// not been read the new one is lost and ORE is set.
func (u *UART) Inject(c byte) {
	u.mu.Lock()
	if u.rxFull {
		u.ore = true
	} else {
		u.rxData = c
		u.rxFull = true
	}
	u.mu.Unlock()
	u.raise()
}

// Tick shifts the pending transmit byte onto the wire. It reports whether
// a byte was sent.
func (u *UART) Tick() bool {
	u.mu.Lock()
	if !u.txPending {
		u.mu.Unlock()
		return false
	}
	u.wire = append(u.wire, u.txData)
	u.txPending = false
	u.mu.Unlock()
	u.raise()
	return true
}

// Drain ticks until the transmitter goes idle and returns the number of
// bytes sent.
func (u *UART) Drain() int {
	n := 0
	for u.Tick() {
		n++
	}
	return n
}

// Wire returns and clears the bytes transmitted so far.
func (u *UART) Wire() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	w := u.wire
	u.wire = nil
	return w
}

// raise runs the handler while an unmasked condition is pending. Nested
// raises from inside the handler are absorbed by the running loop.
func (u *UART) raise() {
	u.mu.Lock()
	if u.inISR || u.handler == nil {
		u.mu.Unlock()
		return
	}
	u.inISR = true
	for u.pending() {
		before := u.status()
		txie := u.txie
		h := u.handler
		u.mu.Unlock()
		h()
		u.mu.Lock()
		if u.status() == before && u.txie == txie {
			break
		}
	}
	u.inISR = false
	u.mu.Unlock()
}

func (u *UART) pending() bool {
	return (u.rxFull && u.rxie) || (!u.txPending && u.txie)
}

var _ uart.Peripheral = (*UART)(nil)
