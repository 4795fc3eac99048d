package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/hal"
)

// DefaultAddress is the address assigned during enumeration.
const DefaultAddress = 1

// maxPolls bounds how long a synchronous host drives the device while
// waiting for a control transfer to complete.
const maxPolls = 64

// CDC-ACM class requests issued by the host.
const (
	requestSetLineCoding       = 0x20
	requestGetLineCoding       = 0x21
	requestSetControlLineState = 0x22
)

// Host drives a Controller from the host side of the bus.
//
// With a non-nil poll function the host calls it while waiting for the
// device, which makes every transfer synchronous and deterministic. With
// nil the host assumes another goroutine polls the device and waits for
// the result or for ctx to end.
type Host struct {
	c    *Controller
	poll func()

	mu     sync.Mutex
	device usbd.DeviceDescriptor
	config []byte
	iface  uint16 // communications interface number
	out    uint8  // bulk OUT
	in     uint8  // bulk IN
	notify uint8  // interrupt IN

	naks atomic.Uint64
}

// NewHost returns a host attached to c.
func NewHost(c *Controller, poll func()) *Host {
	return &Host{c: c, poll: poll}
}

// Enumerate resets the bus, reads the descriptors, assigns an address and
// selects the first configuration.
func (h *Host) Enumerate(ctx context.Context) error {
	h.c.busReset()

	dev, err := h.Control(ctx, usbd.GetDescriptorSetup(usbd.DescriptorTypeDevice, 0, usbd.DeviceDescriptorSize), nil)
	if err != nil {
		return fmt.Errorf("get device descriptor: %w", err)
	}
	var dd usbd.DeviceDescriptor
	if err := usbd.ParseDeviceDescriptor(dev, &dd); err != nil {
		return fmt.Errorf("parse device descriptor: %w", err)
	}

	if _, err := h.Control(ctx, usbd.SetAddressSetup(DefaultAddress), nil); err != nil {
		return fmt.Errorf("set address: %w", err)
	}

	hdr, err := h.Control(ctx, usbd.GetDescriptorSetup(usbd.DescriptorTypeConfiguration, 0, usbd.ConfigurationDescriptorSize), nil)
	if err != nil {
		return fmt.Errorf("get configuration header: %w", err)
	}
	if len(hdr) < usbd.ConfigurationDescriptorSize {
		return fmt.Errorf("configuration header: %w", pkg.ErrBufferTooSmall)
	}
	total := binary.LittleEndian.Uint16(hdr[2:4])
	cfg, err := h.Control(ctx, usbd.GetDescriptorSetup(usbd.DescriptorTypeConfiguration, 0, total), nil)
	if err != nil {
		return fmt.Errorf("get configuration descriptor: %w", err)
	}
	if err := h.parseConfig(cfg); err != nil {
		return err
	}

	if _, err := h.Control(ctx, usbd.SetConfigurationSetup(cfg[5]), nil); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}

	h.mu.Lock()
	h.device = dd
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "device enumerated",
		"vendorID", fmt.Sprintf("0x%04X", dd.VendorID),
		"productID", fmt.Sprintf("0x%04X", dd.ProductID),
		"address", DefaultAddress)
	return nil
}

func (h *Host) parseConfig(cfg []byte) error {
	var iface uint16
	var out, in, notify uint8
	var class uint8
	usbd.WalkDescriptors(cfg, func(typ uint8, d []byte) bool {
		switch {
		case typ == usbd.DescriptorTypeInterface && len(d) >= usbd.InterfaceDescriptorSize:
			class = d[5]
			if class == 0x02 {
				iface = uint16(d[2])
			}
		case typ == usbd.DescriptorTypeEndpoint && len(d) >= usbd.EndpointDescriptorSize:
			addr, xfer := d[2], d[3]&0x03
			switch {
			case xfer == hal.TransferBulk && addr&0x80 != 0:
				in = addr
			case xfer == hal.TransferBulk:
				out = addr
			case xfer == hal.TransferInterrupt && addr&0x80 != 0:
				notify = addr
			}
		}
		return true
	})
	if out == 0 || in == 0 {
		return fmt.Errorf("configuration has no bulk endpoint pair: %w", pkg.ErrInvalidEndpoint)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = append(h.config[:0], cfg...)
	h.iface, h.out, h.in, h.notify = iface, out, in, notify
	return nil
}

// Control runs one control transfer and returns the data stage sent by
// the device.
func (h *Host) Control(ctx context.Context, setup usbd.SetupPacket, data []byte) ([]byte, error) {
	if err := h.c.submit(&setup, data); err != nil {
		return nil, fmt.Errorf("%s: %w", setup.String(), err)
	}
	r, err := h.await(ctx)
	if err != nil {
		h.c.abort()
		return nil, fmt.Errorf("%s: %w", setup.String(), err)
	}
	if r.stalled {
		return nil, fmt.Errorf("%s: %w", setup.String(), pkg.ErrStall)
	}
	return r.data, nil
}

func (h *Host) await(ctx context.Context) (result, error) {
	if h.poll == nil {
		select {
		case r := <-h.c.results:
			return r, nil
		case <-ctx.Done():
			return result{}, ctx.Err()
		}
	}
	for i := 0; i < maxPolls; i++ {
		select {
		case r := <-h.c.results:
			return r, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return result{}, err
		}
		h.poll()
	}
	select {
	case r := <-h.c.results:
		return r, nil
	default:
		return result{}, fmt.Errorf("no response after %d polls: %w", maxPolls, pkg.ErrNAK)
	}
}

// SetControlLineState sends SET_CONTROL_LINE_STATE.
func (h *Host) SetControlLineState(ctx context.Context, dtr, rts bool) error {
	var v uint16
	if dtr {
		v |= 1 << 0
	}
	if rts {
		v |= 1 << 1
	}
	_, err := h.Control(ctx, usbd.ClassInterfaceSetup(false, requestSetControlLineState, v, h.Interface(), 0), nil)
	return err
}

// SetLineCoding sends SET_LINE_CODING with coding as the data stage.
func (h *Host) SetLineCoding(ctx context.Context, coding []byte) error {
	_, err := h.Control(ctx, usbd.ClassInterfaceSetup(false, requestSetLineCoding, 0, h.Interface(), uint16(len(coding))), coding)
	return err
}

// GetLineCoding sends GET_LINE_CODING and returns the 7-byte response.
func (h *Host) GetLineCoding(ctx context.Context) ([]byte, error) {
	return h.Control(ctx, usbd.ClassInterfaceSetup(true, requestGetLineCoding, 0, h.Interface(), 7), nil)
}

// String reads string descriptor idx.
func (h *Host) String(ctx context.Context, idx uint8) (string, error) {
	d, err := h.Control(ctx, usbd.GetDescriptorSetup(usbd.DescriptorTypeString, idx, 255), nil)
	if err != nil {
		return "", err
	}
	return usbd.ParseStringDescriptor(d)
}

// SendOut offers one packet on the bulk OUT endpoint. It reports false if
// the device NAKed it because the previous packet has not been read.
func (h *Host) SendOut(data []byte) bool {
	if h.c.hostOut(h.OutEndpoint(), data) {
		return true
	}
	h.naks.Add(1)
	return false
}

// PendingOut reports whether the last OUT packet is still unread.
func (h *Host) PendingOut() bool {
	return h.c.outPending(h.OutEndpoint())
}

// ReceiveIn takes the loaded bulk IN packet into buf and returns its
// length, or 0 if none is loaded.
func (h *Host) ReceiveIn(buf []byte) int {
	return h.c.hostIn(h.InEndpoint(), buf)
}

// NAKs returns the number of OUT packets refused so far.
func (h *Host) NAKs() uint64 {
	return h.naks.Load()
}

// Device returns the device descriptor read by Enumerate.
func (h *Host) Device() usbd.DeviceDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// Configuration returns the configuration descriptor read by Enumerate.
func (h *Host) Configuration() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.config...)
}

// Interface returns the communications interface number.
func (h *Host) Interface() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.iface
}

// OutEndpoint returns the bulk OUT endpoint address.
func (h *Host) OutEndpoint() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out
}

// InEndpoint returns the bulk IN endpoint address.
func (h *Host) InEndpoint() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.in
}

// NotifyEndpoint returns the interrupt IN endpoint address.
func (h *Host) NotifyEndpoint() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notify
}
