package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
	"github.com/ardnew/cdcuart/uart"
	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/class/cdc"
	"github.com/ardnew/cdcuart/usbd/hal"
)

// MinBufferSize is the smallest buffer that holds two full USB packets.
const MinBufferSize = 2 * cdc.MaxPacketSize

// Config holds the bridge parameters.
type Config struct {
	UART         uart.Config
	BufferSize   int           // Bytes per direction, power of two
	FullWake     ring.FullWake // Observer policy for writes to a full buffer
	Device       cdc.DeviceInfo
	PollInterval time.Duration // Run loop period
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		UART:       uart.DefaultConfig,
		BufferSize: ring.DefaultSize,
		FullWake:   ring.WakeAlways,
		Device: cdc.DeviceInfo{
			VendorID:     cdc.DefaultVendorID,
			ProductID:    cdc.DefaultProductID,
			Manufacturer: "cdcuart",
			Product:      "USB-UART Bridge",
		},
		PollInterval: time.Millisecond,
	}
}

// FaultIndicator is called once when the bridge enters the fault state.
type FaultIndicator func(err error)

// Stats is a snapshot of the bridge state.
type Stats struct {
	Configured   bool
	DTR          bool
	RTS          bool
	UARTTxActive bool
	USBTxActive  bool
	ToUART       int // Bytes queued for the wire
	ToUSB        int // Bytes queued for the host
	UART         uart.Stats
	CDC          cdc.Stats
}

// Bridge connects a UART peripheral and a USB device controller through
// two ring buffers. It owns both buffers and both transceivers.
//
// Bytes from the host land in the UART's outbound buffer and bytes from
// the wire land in the CDC function's outbound buffer. Each buffer has one
// producer (the opposite side's receive path) and one consumer (its
// owner's transmit path), and its observer is the owner.
type Bridge struct {
	cfg Config

	toUART *ring.Buffer
	toUSB  *ring.Buffer

	uart  *uart.Transceiver
	stack *usbd.Stack
	cdc   *cdc.Bridge

	started atomic.Bool
	faulted atomic.Bool

	mu        sync.Mutex
	err       error
	indicator FaultIndicator
}

// New builds and cross-wires a bridge. Nothing runs until Start.
func New(cfg Config, p uart.Peripheral, ctl hal.Controller) (*Bridge, error) {
	if p == nil || ctl == nil {
		return nil, fmt.Errorf("bridge: missing peripheral: %w", pkg.ErrInvalidParameter)
	}
	if cfg.BufferSize < MinBufferSize {
		return nil, fmt.Errorf("bridge: buffer size %d below %d: %w",
			cfg.BufferSize, MinBufferSize, pkg.ErrInvalidParameter)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}

	toUART, err := ring.New(make([]byte, cfg.BufferSize), ring.WithFullWake(cfg.FullWake))
	if err != nil {
		return nil, fmt.Errorf("bridge: uart buffer: %w", err)
	}
	toUSB, err := ring.New(make([]byte, cfg.BufferSize), ring.WithFullWake(cfg.FullWake))
	if err != nil {
		return nil, fmt.Errorf("bridge: usb buffer: %w", err)
	}

	b := &Bridge{
		cfg:    cfg,
		toUART: toUART,
		toUSB:  toUSB,
	}
	b.uart = uart.New(p, toUART)
	b.stack = usbd.NewStack(ctl, cdc.Descriptors(cfg.Device, cdc.DefaultEndpoints))
	b.cdc = cdc.New(b.stack, toUSB, cdc.DefaultEndpoints)

	// each owner drains its own buffer and fills the other's
	toUART.SetObserver(b.uart)
	toUSB.SetObserver(b.cdc)
	b.uart.SetInbound(toUSB)
	b.cdc.SetInbound(toUART)

	b.cdc.SetOnControlStateChange(b.controlStateChanged)
	b.cdc.SetOnLineCoding(b.lineCodingChanged)
	b.cdc.Register()

	pkg.LogDebug(pkg.ComponentBridge, "bridge wired",
		"bufferSize", cfg.BufferSize,
		"fullWake", cfg.FullWake.String())
	return b, nil
}

// SetFaultIndicator sets the function called when the bridge faults.
func (b *Bridge) SetFaultIndicator(fn FaultIndicator) {
	b.mu.Lock()
	b.indicator = fn
	b.mu.Unlock()
}

// Start brings up the UART and attaches the device to the bus.
func (b *Bridge) Start() error {
	if b.Faulted() {
		return b.faultError()
	}
	if !b.started.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	if err := b.uart.Start(b.cfg.UART); err != nil {
		b.started.Store(false)
		return fmt.Errorf("bridge start: %w", err)
	}
	if err := b.stack.Start(); err != nil {
		b.started.Store(false)
		return fmt.Errorf("bridge start: %w", err)
	}
	pkg.LogInfo(pkg.ComponentBridge, "bridge started",
		"baud", b.cfg.UART.BaudRate,
		"vid", fmt.Sprintf("%04x", b.cfg.Device.VendorID),
		"pid", fmt.Sprintf("%04x", b.cfg.Device.ProductID))
	return nil
}

// Poll services the USB controller once. It does nothing after a fault.
func (b *Bridge) Poll() {
	if b.faulted.Load() || !b.started.Load() {
		return
	}
	b.stack.Poll()
}

// Run starts the bridge if needed and polls it every PollInterval until
// ctx is done or the bridge faults.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.Load() {
		if err := b.Start(); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.stop()
			return ctx.Err()
		case <-ticker.C:
			if b.Faulted() {
				b.stop()
				return b.faultError()
			}
			b.Poll()
		}
	}
}

func (b *Bridge) stop() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	if err := b.stack.Stop(); err != nil {
		pkg.LogWarn(pkg.ComponentBridge, "usb stop failed", "error", err)
	}
	pkg.LogInfo(pkg.ComponentBridge, "bridge stopped")
}

// Fault enters the terminal fault state. Data stops moving, the indicator
// runs once and Run returns. Later calls are ignored.
func (b *Bridge) Fault(err error) {
	if err == nil {
		err = pkg.ErrFaulted
	}
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return
	}
	b.err = err
	b.faulted.Store(true)
	fn := b.indicator
	b.mu.Unlock()

	pkg.LogError(pkg.ComponentBridge, "bridge faulted", "error", err)
	if fn != nil {
		fn(err)
	}
}

// Faulted reports whether the bridge is in the fault state.
func (b *Bridge) Faulted() bool {
	return b.faulted.Load()
}

// Err returns the fault cause, or nil.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Bridge) faultError() error {
	return fmt.Errorf("%w: %w", pkg.ErrFaulted, b.Err())
}

// Stats returns a snapshot of the bridge state.
func (b *Bridge) Stats() Stats {
	return Stats{
		Configured:   b.stack.Configured(),
		DTR:          b.cdc.DTR(),
		RTS:          b.cdc.RTS(),
		UARTTxActive: b.uart.TxActive(),
		USBTxActive:  b.cdc.TxActive(),
		ToUART:       b.toUART.Count(),
		ToUSB:        b.toUSB.Count(),
		UART:         b.uart.Stats(),
		CDC:          b.cdc.Stats(),
	}
}

// UART returns the UART transceiver.
func (b *Bridge) UART() *uart.Transceiver { return b.uart }

// CDC returns the USB function.
func (b *Bridge) CDC() *cdc.Bridge { return b.cdc }

func (b *Bridge) controlStateChanged(dtr, rts bool) {
	if dtr {
		pkg.LogInfo(pkg.ComponentBridge, "terminal attached", "rts", rts)
		return
	}
	pkg.LogInfo(pkg.ComponentBridge, "terminal detached", "rts", rts)
}

// The wire format is fixed at start; host line coding is recorded only.
func (b *Bridge) lineCodingChanged(lc cdc.LineCoding) {
	pkg.LogInfo(pkg.ComponentBridge, "host line coding ignored",
		"requested", lc.String(),
		"baud", b.cfg.UART.BaudRate)
}
