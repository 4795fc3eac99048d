// Package sim provides an in-memory USB device controller and a host that
// drives it.
//
// The Controller implements hal.Controller. The Host stands in for the
// computer on the other end of the cable: it enumerates the device, issues
// control requests and moves bulk packets. OUT packets stay NAKed until
// the device reads them and IN packets stay loaded until the host takes
// them, so flow control behaves as it does on a real bus.
package sim

import (
	"sync"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/hal"
)

type setupState uint8

const (
	setupIdle     setupState = iota
	setupPending             // submitted by the host, not yet reported
	setupReported            // reported by Poll, awaiting completion
)

type result struct {
	data    []byte
	stalled bool
}

type endpoint struct {
	cfg hal.EndpointConfig

	out     []byte
	outFull bool

	in     []byte
	inFull bool
}

// Controller is a simulated device controller.
type Controller struct {
	mu sync.Mutex

	connected    bool
	address      uint8
	resetPending bool

	setup     [usbd.SetupPacketSize]byte
	setupData []byte
	state     setupState
	results   chan result

	eps map[uint8]*endpoint
}

// New returns a detached controller.
func New() *Controller {
	return &Controller{
		results: make(chan result, 1),
		eps:     make(map[uint8]*endpoint),
	}
}

// Init implements hal.Controller.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = 0
	c.resetPending = false
	c.state = setupIdle
	c.eps = make(map[uint8]*endpoint)
	return nil
}

// Connect implements hal.Controller.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.resetPending = true
	pkg.LogDebug(pkg.ComponentHAL, "sim controller attached")
	return nil
}

// Disconnect implements hal.Controller.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.eps = make(map[uint8]*endpoint)
	if c.state != setupIdle {
		c.complete(result{stalled: true})
	}
	pkg.LogDebug(pkg.ComponentHAL, "sim controller detached")
	return nil
}

// Connected reports whether the device is attached.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetAddress implements hal.Controller.
func (c *Controller) SetAddress(address uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
	return nil
}

// Address returns the address last applied by the device.
func (c *Controller) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// ConfigureEndpoint implements hal.Controller.
func (c *Controller) ConfigureEndpoint(cfg hal.EndpointConfig) error {
	if cfg.Number() == 0 || cfg.MaxPacketSize == 0 {
		return pkg.ErrInvalidEndpoint
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eps[cfg.Address] = &endpoint{cfg: cfg}
	return nil
}

// Poll implements hal.Controller. A pending reset is reported before a
// pending SETUP.
func (c *Controller) Poll() hal.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return hal.EventNone
	}
	if c.resetPending {
		c.resetPending = false
		c.address = 0
		c.eps = make(map[uint8]*endpoint)
		return hal.EventReset
	}
	if c.state == setupPending {
		c.state = setupReported
		return hal.EventSetup
	}
	return hal.EventNone
}

// ReadSetup implements hal.Controller.
func (c *Controller) ReadSetup(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != setupReported {
		return 0
	}
	return copy(buf, c.setup[:])
}

// ReadEP0 implements hal.Controller.
func (c *Controller) ReadEP0(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != setupReported {
		return 0
	}
	return copy(buf, c.setupData)
}

// WriteEP0 implements hal.Controller.
func (c *Controller) WriteEP0(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != setupReported {
		return pkg.ErrInvalidRequest
	}
	c.complete(result{data: append([]byte(nil), data...)})
	return nil
}

// StallEP0 implements hal.Controller.
func (c *Controller) StallEP0() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == setupReported {
		c.complete(result{stalled: true})
	}
}

// PendingOut implements hal.Controller.
func (c *Controller) PendingOut(address uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	return ok && ep.outFull
}

// ReadPacket implements hal.Controller.
func (c *Controller) ReadPacket(address uint8, buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	if !ok || !ep.outFull {
		return 0
	}
	ep.outFull = false
	return copy(buf, ep.out)
}

// WritePacket implements hal.Controller.
func (c *Controller) WritePacket(address uint8, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	if !ok || !ep.cfg.IsIn() {
		return 0, pkg.ErrInvalidEndpoint
	}
	if ep.inFull {
		return 0, pkg.ErrNAK
	}
	if len(data) > int(ep.cfg.MaxPacketSize) {
		return 0, pkg.ErrBufferTooSmall
	}
	ep.in = append(ep.in[:0], data...)
	ep.inFull = true
	return len(data), nil
}

// InReady implements hal.Controller.
func (c *Controller) InReady(address uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	return ok && !ep.inFull
}

// complete hands a control result to the waiting host. c.mu must be held.
func (c *Controller) complete(r result) {
	c.state = setupIdle
	select {
	case c.results <- r:
	default:
	}
}

func (c *Controller) busReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.resetPending = true
	}
}

func (c *Controller) submit(setup *usbd.SetupPacket, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return pkg.ErrNotConfigured
	}
	select {
	case <-c.results:
	default:
	}
	setup.MarshalTo(c.setup[:])
	c.setupData = append(c.setupData[:0], data...)
	c.state = setupPending
	return nil
}

func (c *Controller) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = setupIdle
}

// hostOut offers a packet on an OUT endpoint. It reports false (NAK) while
// the previous packet is unread.
func (c *Controller) hostOut(address uint8, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	if !ok || ep.cfg.IsIn() || ep.outFull || len(data) > int(ep.cfg.MaxPacketSize) {
		return false
	}
	ep.out = append(ep.out[:0], data...)
	ep.outFull = true
	return true
}

func (c *Controller) hostIn(address uint8, buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.eps[address]
	if !ok || !ep.inFull {
		return 0
	}
	ep.inFull = false
	return copy(buf, ep.in)
}

func (c *Controller) outPending(address uint8) bool {
	return c.PendingOut(address)
}

var _ hal.Controller = (*Controller)(nil)
