package uart

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
)

// Stats holds the transceiver's running counters.
type Stats struct {
	RxBytes   uint64 // Bytes taken from the receive register
	RxDropped uint64 // Received bytes refused by a full inbound buffer
	Overruns  uint64 // Receive overruns reported by the peripheral
	TxBytes   uint64 // Bytes loaded into the transmit register
}

// Transceiver moves bytes between a UART peripheral and two ring buffers.
//
// The outbound buffer holds bytes waiting for the wire and is owned by the
// transceiver. The inbound buffer receives bytes from the wire and belongs
// to the component on the other side of the bridge.
//
// Transmission is an idle/active state machine. OnWrite (the outbound
// buffer's observer) moves idle to active by loading the first byte and
// unmasking the TXE interrupt; every TXE interrupt loads the next byte; an
// empty buffer masks the interrupt and returns to idle. Whichever context
// holds the active state is the only reader of the outbound buffer.
type Transceiver struct {
	p       Peripheral
	tx      *ring.Buffer
	inbound *ring.Buffer

	txActive atomic.Bool

	rxBytes   atomic.Uint64
	rxDropped atomic.Uint64
	overruns  atomic.Uint64
	txBytes   atomic.Uint64

	rxByte [1]byte // ISR scratch
}

// New returns a transceiver draining tx into p.
func New(p Peripheral, tx *ring.Buffer) *Transceiver {
	return &Transceiver{p: p, tx: tx}
}

// SetInbound sets the buffer that receives bytes from the wire. A nil
// buffer discards received bytes.
func (t *Transceiver) SetInbound(rb *ring.Buffer) {
	t.inbound = rb
}

// Outbound returns the buffer drained to the wire.
func (t *Transceiver) Outbound() *ring.Buffer {
	return t.tx
}

// Start installs the interrupt handler, configures the line and unmasks
// the receive interrupt.
func (t *Transceiver) Start(cfg Config) error {
	if t.p == nil {
		return fmt.Errorf("uart start: %w", pkg.ErrNotConfigured)
	}
	t.p.SetHandler(t.HandleInterrupt)
	if err := t.p.Configure(cfg); err != nil {
		return fmt.Errorf("uart configure: %w", err)
	}
	t.p.EnableRxInterrupt()

	pkg.LogDebug(pkg.ComponentUART, "transceiver started",
		"baud", cfg.BaudRate,
		"dataBits", cfg.DataBits,
		"stopBits", cfg.StopBits,
		"parity", cfg.Parity.String())
	return nil
}

// Write queues p for transmission without blocking and returns the number
// of bytes accepted. The outbound buffer's observer wakes the transmitter.
func (t *Transceiver) Write(p []byte) int {
	return t.tx.Write(p)
}

// TxActive reports whether the transmitter is armed.
func (t *Transceiver) TxActive() bool {
	return t.txActive.Load()
}

// OnWrite implements ring.WriteObserver for the outbound buffer. It arms
// the transmitter if it is idle and otherwise does nothing.
func (t *Transceiver) OnWrite() {
	if t.txActive.CompareAndSwap(false, true) {
		t.pump()
	}
}

// HandleInterrupt is the UART interrupt service routine.
func (t *Transceiver) HandleInterrupt() {
	st := t.p.Status()
	if st&StatusORE != 0 {
		t.overruns.Add(1)
	}
	if st&StatusRXNE != 0 {
		t.rxByte[0] = t.p.ReadData()
		t.rxBytes.Add(1)
		if t.inbound.Write(t.rxByte[:]) == 0 {
			t.rxDropped.Add(1)
		}
	}
	if st&StatusTXE != 0 && t.p.TxInterruptEnabled() {
		t.pump()
	}
}

// pump loads the next outbound byte or returns the transmitter to idle.
// The caller must hold the active state.
func (t *Transceiver) pump() {
	for {
		if c, ok := t.tx.Get(); ok {
			t.p.WriteData(c)
			t.txBytes.Add(1)
			t.p.EnableTxInterrupt()
			return
		}
		t.p.DisableTxInterrupt()
		t.txActive.Store(false)

		// A producer that wrote after the failed Get saw the active state
		// and did not arm; take the state back if it is still free.
		if t.tx.IsEmpty() || !t.txActive.CompareAndSwap(false, true) {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (t *Transceiver) Stats() Stats {
	return Stats{
		RxBytes:   t.rxBytes.Load(),
		RxDropped: t.rxDropped.Load(),
		Overruns:  t.overruns.Load(),
		TxBytes:   t.txBytes.Load(),
	}
}

var _ ring.WriteObserver = (*Transceiver)(nil)
