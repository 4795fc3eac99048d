package usbd

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/usbd/hal"
)

// MaxControlDataSize is the largest control data stage the stack buffers.
const MaxControlDataSize = 256

// maxEndpointAddresses covers 0x00-0x0F OUT and 0x80-0x8F IN.
const maxEndpointAddresses = 32

// RequestResult is a control handler's verdict on a request.
type RequestResult uint8

const (
	// RequestHandled completes the transfer successfully.
	RequestHandled RequestResult = iota
	// RequestNotSupported stalls the transfer.
	RequestNotSupported
	// RequestNext passes the request to the next matching handler.
	RequestNext
)

// String returns a human-readable result name.
func (r RequestResult) String() string {
	switch r {
	case RequestHandled:
		return "Handled"
	case RequestNotSupported:
		return "NotSupported"
	case RequestNext:
		return "Next"
	default:
		return "Unknown"
	}
}

// ControlHandler processes control requests the stack does not handle
// itself.
//
// For host-to-device requests data holds the data stage. For
// device-to-host requests the handler writes its response into resp,
// which is already limited to wLength, and returns the byte count.
type ControlHandler interface {
	HandleControl(setup *SetupPacket, data, resp []byte) (int, RequestResult)
}

// ControlHandlerFunc adapts a function to ControlHandler.
type ControlHandlerFunc func(setup *SetupPacket, data, resp []byte) (int, RequestResult)

// HandleControl calls f.
func (f ControlHandlerFunc) HandleControl(setup *SetupPacket, data, resp []byte) (int, RequestResult) {
	return f(setup, data, resp)
}

// EndpointCallback is invoked from Poll. For OUT endpoints it fires on
// every poll while a packet is pending; a callback that does not read the
// packet leaves it unacknowledged. For IN endpoints it fires once after the
// host takes a packet written with WritePacket.
type EndpointCallback func(address uint8)

type controlEntry struct {
	typ, mask uint8
	handler   ControlHandler
}

type endpoint struct {
	cfg      hal.EndpointConfig
	cb       EndpointCallback
	active   atomic.Bool
	inFlight atomic.Bool
}

// Stack is a polled USB device engine. It answers enumeration, dispatches
// class requests to registered handlers and runs endpoint callbacks, all
// from within Poll.
//
// Poll must be called from a single goroutine. ReadPacket and WritePacket
// may be called from any goroutine provided each endpoint has one caller
// at a time.
type Stack struct {
	ctl  hal.Controller
	desc Descriptors

	handlers    []controlEntry
	onSetConfig func(value uint16)

	eps            [maxEndpointAddresses]endpoint
	config         atomic.Uint32
	address        uint8
	pendingAddress uint8
	running        bool

	setupBuf [SetupPacketSize]byte
	setup    SetupPacket
	ep0Buf   [MaxControlDataSize]byte
	respBuf  [MaxControlDataSize]byte
}

// endpointIndex converts an endpoint address to an array index.
func endpointIndex(addr uint8) int {
	if addr&0x80 != 0 {
		return int(addr&0x0F) + 16
	}
	return int(addr & 0x0F)
}

// NewStack creates a stack serving desc through ctl.
func NewStack(ctl hal.Controller, desc Descriptors) *Stack {
	return &Stack{ctl: ctl, desc: desc}
}

// RegisterControlHandler adds h to the handler chain. A request reaches h
// when its bmRequestType masked with mask equals typ. Handlers are tried
// in registration order.
func (s *Stack) RegisterControlHandler(typ, mask uint8, h ControlHandler) {
	s.handlers = append(s.handlers, controlEntry{typ: typ, mask: mask, handler: h})
}

// OnSetConfiguration sets the callback run when the host selects a
// configuration. The value is 0 when the device is deconfigured by the
// host or by a bus reset.
func (s *Stack) OnSetConfiguration(cb func(value uint16)) {
	s.onSetConfig = cb
}

// Start initializes the controller and attaches to the bus.
func (s *Stack) Start() error {
	if s.running {
		return pkg.ErrAlreadyRunning
	}
	if err := s.ctl.Init(); err != nil {
		return fmt.Errorf("usb controller init: %w", err)
	}
	if err := s.ctl.Connect(); err != nil {
		return fmt.Errorf("usb connect: %w", err)
	}
	s.running = true
	pkg.LogDebug(pkg.ComponentUSB, "device stack started")
	return nil
}

// Stop detaches from the bus.
func (s *Stack) Stop() error {
	if !s.running {
		return pkg.ErrNotRunning
	}
	s.running = false
	s.deconfigure()
	if err := s.ctl.Disconnect(); err != nil {
		return fmt.Errorf("usb disconnect: %w", err)
	}
	pkg.LogDebug(pkg.ComponentUSB, "device stack stopped")
	return nil
}

// Configured reports whether the host has selected a configuration.
func (s *Stack) Configured() bool {
	return s.config.Load() != 0
}

// Configuration returns the active configuration value.
func (s *Stack) Configuration() uint8 {
	return uint8(s.config.Load())
}

// Address returns the address assigned by the host.
func (s *Stack) Address() uint8 {
	return s.address
}

// SetupEndpoint enables a data endpoint and installs its callback. It is
// normally called from the OnSetConfiguration callback.
func (s *Stack) SetupEndpoint(addr, transferType uint8, maxPacket uint16, cb EndpointCallback) error {
	if addr&0x0F == 0 || addr&0x70 != 0 {
		return fmt.Errorf("endpoint 0x%02X: %w", addr, pkg.ErrInvalidEndpoint)
	}
	cfg := hal.EndpointConfig{
		Address:       addr,
		Attributes:    transferType & 0x03,
		MaxPacketSize: maxPacket,
	}
	if err := s.ctl.ConfigureEndpoint(cfg); err != nil {
		return fmt.Errorf("configure endpoint 0x%02X: %w", addr, err)
	}
	ep := &s.eps[endpointIndex(addr)]
	ep.cfg = cfg
	ep.cb = cb
	ep.inFlight.Store(false)
	ep.active.Store(true)
	return nil
}

// ReadPacket consumes the pending OUT packet on addr into buf and returns
// its length, or 0 if the endpoint is not active or nothing is pending.
func (s *Stack) ReadPacket(addr uint8, buf []byte) int {
	ep := &s.eps[endpointIndex(addr)]
	if !ep.active.Load() || ep.cfg.IsIn() {
		return 0
	}
	return s.ctl.ReadPacket(addr, buf)
}

// WritePacket loads data as the next IN packet on addr. It returns the
// number of bytes loaded, or 0 if the endpoint is not active or still
// holds an untaken packet.
func (s *Stack) WritePacket(addr uint8, data []byte) int {
	ep := &s.eps[endpointIndex(addr)]
	if !ep.active.Load() || !ep.cfg.IsIn() {
		return 0
	}
	if len(data) > int(ep.cfg.MaxPacketSize) {
		data = data[:ep.cfg.MaxPacketSize]
	}
	n, err := s.ctl.WritePacket(addr, data)
	if err != nil {
		return 0
	}
	ep.inFlight.Store(true)
	return n
}

// Poll services one pending bus event and then runs endpoint callbacks.
func (s *Stack) Poll() {
	switch s.ctl.Poll() {
	case hal.EventReset:
		s.reset()
	case hal.EventSetup:
		s.handleSetup()
	}
	if !s.Configured() {
		return
	}
	for i := range s.eps {
		ep := &s.eps[i]
		if !ep.active.Load() || ep.cb == nil {
			continue
		}
		addr := ep.cfg.Address
		if ep.cfg.IsIn() {
			if ep.inFlight.Load() && s.ctl.InReady(addr) && ep.inFlight.CompareAndSwap(true, false) {
				ep.cb(addr)
			}
		} else if s.ctl.PendingOut(addr) {
			ep.cb(addr)
		}
	}
}

func (s *Stack) reset() {
	s.address = 0
	s.pendingAddress = 0
	s.deconfigure()
	pkg.LogDebug(pkg.ComponentUSB, "bus reset")
}

// deconfigure disables every data endpoint and reports configuration 0 if
// a configuration was active.
func (s *Stack) deconfigure() {
	for i := range s.eps {
		s.eps[i].active.Store(false)
		s.eps[i].inFlight.Store(false)
	}
	if s.config.Swap(0) != 0 && s.onSetConfig != nil {
		s.onSetConfig(0)
	}
}

func (s *Stack) handleSetup() {
	n := s.ctl.ReadSetup(s.setupBuf[:])
	if err := ParseSetupPacket(s.setupBuf[:n], &s.setup); err != nil {
		pkg.LogWarn(pkg.ComponentUSB, "malformed setup packet", "error", err)
		s.ctl.StallEP0()
		return
	}
	setup := &s.setup

	var data []byte
	resp := s.respBuf[:0]
	if setup.IsDeviceToHost() {
		resp = s.respBuf[:min(int(setup.Length), len(s.respBuf))]
	} else if setup.Length > 0 {
		want := min(int(setup.Length), len(s.ep0Buf))
		data = s.ep0Buf[:s.ctl.ReadEP0(s.ep0Buf[:want])]
	}

	n, result := s.dispatch(setup, data, resp)
	if result != RequestHandled {
		pkg.LogDebug(pkg.ComponentUSB, "request stalled",
			"request", setup.String(),
			"result", result.String())
		s.ctl.StallEP0()
		return
	}

	var err error
	if setup.IsDeviceToHost() {
		err = s.ctl.WriteEP0(resp[:n])
	} else {
		err = s.ctl.WriteEP0(nil)
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentUSB, "control transfer failed",
			"request", setup.String(),
			"error", err)
		return
	}

	// the new address takes effect after the status stage
	if setup.Type() == RequestTypeStandard && setup.Request == RequestSetAddress {
		s.address = s.pendingAddress
		if err := s.ctl.SetAddress(s.address); err != nil {
			pkg.LogWarn(pkg.ComponentUSB, "set address failed", "error", err)
		}
	}
}

func (s *Stack) dispatch(setup *SetupPacket, data, resp []byte) (int, RequestResult) {
	if setup.Type() == RequestTypeStandard {
		if n, r := s.handleStandard(setup, resp); r != RequestNext {
			return n, r
		}
	}
	for _, e := range s.handlers {
		if setup.RequestType&e.mask != e.typ {
			continue
		}
		if n, r := e.handler.HandleControl(setup, data, resp); r != RequestNext {
			return n, r
		}
	}
	return 0, RequestNotSupported
}
