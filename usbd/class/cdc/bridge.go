package cdc

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/hal"
)

// Stats holds the bridge's running counters.
type Stats struct {
	RxBytes    uint64 // Bytes read from bulk OUT into the inbound buffer
	RxDeferred uint64 // OUT events left unacknowledged for lack of space
	TxBytes    uint64 // Bytes loaded into bulk IN packets
	TxDropped  uint64 // Bytes lost because the IN endpoint went away
	Flushes    uint64 // Outbound flushes while no terminal was attached
}

// Bridge is the USB side of the serial bridge: a CDC-ACM function whose
// bulk endpoints move bytes between the host and two ring buffers.
//
// The outbound buffer holds bytes for the host and is owned by the bridge.
// The inbound buffer receives bytes from the host and belongs to the
// component on the other side.
//
// DTR is the authority on whether a terminal is listening. While it is
// false the outbound path discards at admission: Write queues nothing and
// the outbound observer flushes anything written around it. Bulk OUT
// packets are only read when the inbound buffer has room for a whole
// packet; otherwise the packet stays unacknowledged and the host retries.
type Bridge struct {
	stack   *usbd.Stack
	eps     Endpoints
	tx      *ring.Buffer
	inbound *ring.Buffer

	txActive atomic.Bool
	dtr      atomic.Bool
	rts      atomic.Bool

	mu             sync.Mutex
	lineCoding     LineCoding
	onControlState func(dtr, rts bool)
	onLineCoding   func(LineCoding)

	rxBytes    atomic.Uint64
	rxDeferred atomic.Uint64
	txBytes    atomic.Uint64
	txDropped  atomic.Uint64
	flushes    atomic.Uint64

	txChunk  [MaxPacketSize]byte // owned by whoever holds txActive
	rxPacket [MaxPacketSize]byte // used from Poll only
}

// New returns a bridge draining tx to the host through stack.
func New(stack *usbd.Stack, tx *ring.Buffer, eps Endpoints) *Bridge {
	return &Bridge{
		stack:      stack,
		eps:        eps,
		tx:         tx,
		lineCoding: DefaultLineCoding,
	}
}

// SetInbound sets the buffer that receives bytes from the host.
func (b *Bridge) SetInbound(rb *ring.Buffer) {
	b.inbound = rb
}

// Outbound returns the buffer drained to the host.
func (b *Bridge) Outbound() *ring.Buffer {
	return b.tx
}

// Register installs the class request handler and the configuration
// callback on the stack.
func (b *Bridge) Register() {
	b.stack.RegisterControlHandler(
		usbd.RequestTypeClass|usbd.RequestRecipientInterface,
		usbd.RequestTypeTypeMask|usbd.RequestTypeRecipientMask,
		b)
	b.stack.OnSetConfiguration(b.setConfiguration)
}

// SetOnControlStateChange sets the callback for control line changes.
func (b *Bridge) SetOnControlStateChange(cb func(dtr, rts bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onControlState = cb
}

// SetOnLineCoding sets the callback for SET_LINE_CODING.
func (b *Bridge) SetOnLineCoding(cb func(LineCoding)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLineCoding = cb
}

// DTR returns the Data Terminal Ready line.
func (b *Bridge) DTR() bool { return b.dtr.Load() }

// RTS returns the Request To Send line.
func (b *Bridge) RTS() bool { return b.rts.Load() }

// TxActive reports whether an IN packet is in flight.
func (b *Bridge) TxActive() bool { return b.txActive.Load() }

// LineCoding returns the coding last sent by the host. It is recorded but
// never applied; the UART keeps its own fixed format.
func (b *Bridge) LineCoding() LineCoding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineCoding
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		RxBytes:    b.rxBytes.Load(),
		RxDeferred: b.rxDeferred.Load(),
		TxBytes:    b.txBytes.Load(),
		TxDropped:  b.txDropped.Load(),
		Flushes:    b.flushes.Load(),
	}
}

// Write queues p for the host and returns the number of bytes accepted.
// Nothing is queued while DTR is false.
func (b *Bridge) Write(p []byte) int {
	if !b.dtr.Load() {
		return 0
	}
	return b.tx.Write(p)
}

// OnWrite implements ring.WriteObserver for the outbound buffer. With no
// terminal attached it discards the buffer; otherwise it starts an IN
// transfer if none is in flight.
func (b *Bridge) OnWrite() {
	if !b.dtr.Load() {
		b.flush()
		return
	}
	if b.txActive.CompareAndSwap(false, true) {
		b.pump()
	}
}

// HandleControl implements usbd.ControlHandler.
func (b *Bridge) HandleControl(setup *usbd.SetupPacket, data, resp []byte) (int, usbd.RequestResult) {
	if setup.InterfaceNumber() != InterfaceComm {
		return 0, usbd.RequestNext
	}
	switch setup.Request {
	case RequestSetControlLineState:
		b.setControlLineState(setup.Value)
		return 0, usbd.RequestHandled

	case RequestSetLineCoding:
		var lc LineCoding
		if !ParseLineCoding(data, &lc) {
			return 0, usbd.RequestNotSupported
		}
		b.mu.Lock()
		b.lineCoding = lc
		cb := b.onLineCoding
		b.mu.Unlock()
		pkg.LogDebug(pkg.ComponentCDC, "line coding set", "coding", lc.String())
		if cb != nil {
			cb(lc)
		}
		return 0, usbd.RequestHandled

	case RequestGetLineCoding:
		// always the canned coding: the line format is fixed on the UART
		if setup.Length < LineCodingSize {
			return 0, usbd.RequestNotSupported
		}
		lc := DefaultLineCoding
		return lc.MarshalTo(resp), usbd.RequestHandled

	default:
		// SEND_BREAK included: the UART side has no break support
		return 0, usbd.RequestNext
	}
}

func (b *Bridge) setControlLineState(value uint16) {
	dtr := value&ControlLineDTR != 0
	rts := value&ControlLineRTS != 0
	was := b.dtr.Swap(dtr)
	b.rts.Store(rts)

	if was && !dtr {
		// terminal closed; drop what it will never read
		b.flush()
	}

	b.mu.Lock()
	cb := b.onControlState
	b.mu.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "control line state set",
		"dtr", dtr,
		"rts", rts)
	if cb != nil {
		cb(dtr, rts)
	}

	// bytes admitted while the terminal was attached earlier may be waiting
	if dtr && !b.tx.IsEmpty() {
		b.OnWrite()
	}
}

func (b *Bridge) setConfiguration(value uint16) {
	if value == 0 {
		b.dtr.Store(false)
		b.rts.Store(false)
		b.txActive.Store(false)
		b.flush()
		pkg.LogDebug(pkg.ComponentCDC, "function deconfigured")
		return
	}
	if err := b.stack.SetupEndpoint(b.eps.Out, hal.TransferBulk, MaxPacketSize, b.handleOut); err != nil {
		pkg.LogError(pkg.ComponentCDC, "bulk OUT setup failed", "error", err)
	}
	if err := b.stack.SetupEndpoint(b.eps.In, hal.TransferBulk, MaxPacketSize, b.handleIn); err != nil {
		pkg.LogError(pkg.ComponentCDC, "bulk IN setup failed", "error", err)
	}
	if err := b.stack.SetupEndpoint(b.eps.Notify, hal.TransferInterrupt, NotifyPacketSize, nil); err != nil {
		pkg.LogError(pkg.ComponentCDC, "notification endpoint setup failed", "error", err)
	}
	pkg.LogDebug(pkg.ComponentCDC, "function configured",
		"out", b.eps.Out,
		"in", b.eps.In,
		"notify", b.eps.Notify)
}

// handleOut runs on every poll while an OUT packet is pending. Space is
// checked before the packet is read so a full buffer stalls the host
// instead of losing data.
func (b *Bridge) handleOut(addr uint8) {
	if b.inbound.Free() < MaxPacketSize {
		b.rxDeferred.Add(1)
		return
	}
	n := b.stack.ReadPacket(addr, b.rxPacket[:])
	if n > 0 {
		b.rxBytes.Add(uint64(n))
		b.inbound.Write(b.rxPacket[:n])
	}
}

// handleIn runs after the host takes an IN packet. The bridge still holds
// the active state.
func (b *Bridge) handleIn(uint8) {
	b.pump()
}

// pump loads the next IN packet or returns the transmitter to idle. The
// caller must hold the active state.
func (b *Bridge) pump() {
	for {
		n := 0
		if b.stack.Configured() {
			n = b.tx.Read(b.txChunk[:])
		}
		if n > 0 {
			if b.stack.WritePacket(b.eps.In, b.txChunk[:n]) == n {
				b.txBytes.Add(uint64(n))
				return
			}
			b.txDropped.Add(uint64(n))
			b.txActive.Store(false)
			return
		}
		b.txActive.Store(false)

		// a producer that wrote after the empty Read saw the active state
		// and did not start a transfer
		if b.tx.IsEmpty() || !b.stack.Configured() || !b.txActive.CompareAndSwap(false, true) {
			return
		}
	}
}

func (b *Bridge) flush() {
	if !b.tx.IsEmpty() {
		b.flushes.Add(1)
	}
	b.tx.Flush()
}

var (
	_ ring.WriteObserver   = (*Bridge)(nil)
	_ usbd.ControlHandler = (*Bridge)(nil)
)
