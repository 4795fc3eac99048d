//go:build !baremetal

// Package serialport implements uart.Peripheral on top of an operating
// system serial device.
//
// Three goroutines stand in for the hardware: a receiver that latches one
// byte at a time from the port into the receive register, a transmitter
// that writes the transmit register to the port, and an interrupt line that
// calls the installed handler while an unmasked flag is pending. The
// interrupt line is the only caller of the handler, so handler invocations
// never overlap.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/uart"
)

// Port is a uart.Peripheral backed by a serial device.
type Port struct {
	name string
	rw   io.ReadWriteCloser

	mu      sync.Mutex
	handler func()
	rxData  byte
	rxFull  bool
	rxie    bool
	txie    bool
	txBusy  bool

	rxFree chan struct{} // receive register emptied
	txLoad chan byte     // transmit register loaded
	irq    chan struct{} // coalesced interrupt request
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
	err       error
}

// Open opens the named serial device with cfg applied.
func Open(name string, cfg uart.Config) (*Port, error) {
	if name == "" {
		return nil, fmt.Errorf("serial port path is required: %w", pkg.ErrInvalidParameter)
	}
	mode, err := modeFor(cfg)
	if err != nil {
		return nil, err
	}
	sp, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", name, err)
	}
	p := newPort(name, sp)
	pkg.LogInfo(pkg.ComponentHAL, "serial port opened",
		"port", name,
		"baud", cfg.BaudRate)
	return p, nil
}

// NewWithDevice wraps an already open byte stream. Configure is a no-op
// for streams that are not serial ports.
func NewWithDevice(name string, rw io.ReadWriteCloser) *Port {
	return newPort(name, rw)
}

// PortInfo describes a serial device present on the system.
type PortInfo struct {
	Name         string
	USB          bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// Ports lists the serial devices present on the system. USB identifiers
// are filled in where the platform reports them.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID = parseID(d.VID)
			info.ProductID = parseID(d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

func parseID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func newPort(name string, rw io.ReadWriteCloser) *Port {
	p := &Port{
		name:   name,
		rw:     rw,
		rxFree: make(chan struct{}, 1),
		txLoad: make(chan byte, 1),
		irq:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.wg.Add(3)
	go p.receiver()
	go p.transmitter()
	go p.interruptLine()
	return p
}

func modeFor(cfg uart.Config) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: int(cfg.BaudRate),
		DataBits: int(cfg.DataBits),
	}
	switch cfg.Parity {
	case uart.ParityNone:
		mode.Parity = serial.NoParity
	case uart.ParityEven:
		mode.Parity = serial.EvenParity
	case uart.ParityOdd:
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("parity %d: %w", cfg.Parity, pkg.ErrInvalidParameter)
	}
	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("stop bits %d: %w", cfg.StopBits, pkg.ErrInvalidParameter)
	}
	return mode, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.name }

// Configure implements uart.Peripheral.
func (p *Port) Configure(cfg uart.Config) error {
	sp, ok := p.rw.(serial.Port)
	if !ok {
		return nil
	}
	mode, err := modeFor(cfg)
	if err != nil {
		return err
	}
	if err := sp.SetMode(mode); err != nil {
		return fmt.Errorf("set mode on %s: %w", p.name, err)
	}
	return nil
}

// SetHandler implements uart.Peripheral.
func (p *Port) SetHandler(isr func()) {
	p.mu.Lock()
	p.handler = isr
	p.mu.Unlock()
	p.request()
}

// Status implements uart.Peripheral.
func (p *Port) Status() uart.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st uart.Status
	if p.rxFull {
		st |= uart.StatusRXNE
	}
	if !p.txBusy {
		st |= uart.StatusTXE
	}
	return st
}

// ReadData implements uart.Peripheral.
func (p *Port) ReadData() byte {
	p.mu.Lock()
	c, was := p.rxData, p.rxFull
	p.rxFull = false
	p.mu.Unlock()
	if was {
		select {
		case p.rxFree <- struct{}{}:
		default:
		}
	}
	return c
}

// WriteData implements uart.Peripheral.
func (p *Port) WriteData(c byte) {
	p.mu.Lock()
	if p.txBusy {
		// writing a busy register overwrites nothing on real parts either;
		// the byte is lost
		p.mu.Unlock()
		return
	}
	p.txBusy = true
	p.mu.Unlock()
	select {
	case p.txLoad <- c:
	case <-p.done:
	}
}

// EnableTxInterrupt implements uart.Peripheral.
func (p *Port) EnableTxInterrupt() {
	p.mu.Lock()
	p.txie = true
	p.mu.Unlock()
	p.request()
}

// DisableTxInterrupt implements uart.Peripheral.
func (p *Port) DisableTxInterrupt() {
	p.mu.Lock()
	p.txie = false
	p.mu.Unlock()
}

// TxInterruptEnabled implements uart.Peripheral.
func (p *Port) TxInterruptEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txie
}

// EnableRxInterrupt implements uart.Peripheral.
func (p *Port) EnableRxInterrupt() {
	p.mu.Lock()
	p.rxie = true
	p.mu.Unlock()
	p.request()
}

// Err returns the error that stopped the receiver or transmitter, if any.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops the goroutines and closes the device.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.rw.Close()
		p.wg.Wait()
		pkg.LogInfo(pkg.ComponentHAL, "serial port closed", "port", p.name)
	})
	return err
}

// request asserts the interrupt line without blocking.
func (p *Port) request() {
	select {
	case p.irq <- struct{}{}:
	default:
	}
}

func (p *Port) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Port) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Port) receiver() {
	defer p.wg.Done()
	var buf [64]byte
	for {
		n, err := p.rw.Read(buf[:])
		for i := 0; i < n; i++ {
			// wait for the ISR to empty the register; the OS driver
			// buffers behind us
			for p.registerFull() {
				select {
				case <-p.rxFree:
				case <-p.done:
					return
				}
			}
			p.mu.Lock()
			p.rxData = buf[i]
			p.rxFull = true
			p.mu.Unlock()
			p.request()
		}
		if err != nil {
			if !p.stopped() && !errors.Is(err, io.EOF) {
				p.fail(fmt.Errorf("read %s: %w", p.name, err))
				pkg.LogError(pkg.ComponentHAL, "serial read failed",
					"port", p.name,
					"error", err)
			}
			return
		}
		if n == 0 && p.stopped() {
			return
		}
	}
}

func (p *Port) registerFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxFull
}

func (p *Port) transmitter() {
	defer p.wg.Done()
	var one [1]byte
	for {
		select {
		case c := <-p.txLoad:
			one[0] = c
			if _, err := p.rw.Write(one[:]); err != nil && !p.stopped() {
				p.fail(fmt.Errorf("write %s: %w", p.name, err))
				pkg.LogError(pkg.ComponentHAL, "serial write failed",
					"port", p.name,
					"error", err)
			}
			p.mu.Lock()
			p.txBusy = false
			p.mu.Unlock()
			p.request()
		case <-p.done:
			return
		}
	}
}

func (p *Port) interruptLine() {
	defer p.wg.Done()
	for {
		select {
		case <-p.irq:
		case <-p.done:
			return
		}
		for {
			p.mu.Lock()
			pending := (p.rxFull && p.rxie) || (!p.txBusy && p.txie)
			h := p.handler
			p.mu.Unlock()
			if !pending || h == nil || p.stopped() {
				break
			}
			h()
		}
	}
}

var _ uart.Peripheral = (*Port)(nil)
