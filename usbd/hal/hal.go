// Package hal defines the packet-level USB device controller consumed by
// the usbd engine.
//
// The controller is polled. Nothing in this interface blocks: Poll reports
// the next bus event, OUT packets wait in the controller until read (the
// host sees NAK until then) and an IN packet stays loaded until the host
// takes it.
package hal

// Event is a bus event reported by Poll.
type Event uint8

// Bus events.
const (
	EventNone  Event = iota // Nothing pending
	EventReset              // Bus reset; address and endpoints are cleared
	EventSetup              // A SETUP packet is waiting on EP0
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "None"
	case EventReset:
		return "Reset"
	case EventSetup:
		return "Setup"
	default:
		return "Unknown"
	}
}

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	TransferControl     = 0x00
	TransferIsochronous = 0x01
	TransferBulk        = 0x02
	TransferInterrupt   = 0x03
)

// EndpointConfig describes a non-control endpoint.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Maximum packet size
}

// Number returns the endpoint number (0-15).
func (e EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type.
func (e EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// Controller is the hardware boundary of a USB device controller.
type Controller interface {
	// Init resets the controller to its power-on state.
	Init() error

	// Connect attaches to the bus. The host answers with a bus reset.
	Connect() error

	// Disconnect detaches from the bus.
	Disconnect() error

	// SetAddress applies the address assigned by the host.
	SetAddress(address uint8) error

	// ConfigureEndpoint enables a data endpoint.
	ConfigureEndpoint(cfg EndpointConfig) error

	// Poll returns the next pending bus event.
	Poll() Event

	// ReadSetup copies the pending SETUP packet into buf and returns its
	// length.
	ReadSetup(buf []byte) int

	// ReadEP0 copies the data stage of a host-to-device control transfer
	// into buf and returns its length.
	ReadEP0(buf []byte) int

	// WriteEP0 completes the pending control transfer. For device-to-host
	// requests data is the data stage; otherwise data is empty and the
	// call is the status stage.
	WriteEP0(data []byte) error

	// StallEP0 completes the pending control transfer with a STALL.
	StallEP0()

	// PendingOut reports whether an OUT packet is waiting on the endpoint.
	PendingOut(address uint8) bool

	// ReadPacket consumes and acknowledges the pending OUT packet.
	// It returns 0 if nothing is pending.
	ReadPacket(address uint8, buf []byte) int

	// WritePacket loads an IN packet. It fails with ErrNAK if the previous
	// packet has not been taken yet.
	WritePacket(address uint8, data []byte) (int, error)

	// InReady reports whether the IN endpoint can accept a new packet.
	InReady(address uint8) bool
}
