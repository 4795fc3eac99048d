package cdc

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/ardnew/cdcuart/usbd"
	"github.com/ardnew/cdcuart/usbd/hal"
)

// MaxPacketSize is the bulk endpoint packet size.
const MaxPacketSize = 64

// Notification endpoint parameters. The endpoint is declared for the host
// driver's benefit and never carries data.
const (
	NotifyPacketSize = 16
	NotifyInterval   = 255
)

// Interface numbers.
const (
	InterfaceComm = 0
	InterfaceData = 1
)

// Default identifiers (pid.codes test VID/PID).
const (
	DefaultVendorID  = 0x1209
	DefaultProductID = 0x0001
)

// Endpoints holds the endpoint addresses of the ACM function.
type Endpoints struct {
	Out    uint8 // Bulk OUT
	In     uint8 // Bulk IN
	Notify uint8 // Interrupt IN
}

// DefaultEndpoints is bulk OUT 0x01, bulk IN 0x81 and notification 0x82.
var DefaultEndpoints = Endpoints{Out: 0x01, In: 0x81, Notify: 0x82}

// DeviceInfo identifies the device to the host.
type DeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	SerialNumber string // generated when empty
}

// String indices in the descriptor set.
const (
	stringManufacturer = 1
	stringProduct      = 2
	stringSerial       = 3
)

// DeviceDescriptor returns the 18-byte device descriptor.
func DeviceDescriptor(info DeviceInfo) []byte {
	dd := usbd.DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassCDC,
		MaxPacketSize0:    MaxPacketSize,
		VendorID:          info.VendorID,
		ProductID:         info.ProductID,
		DeviceVersion:     0x0100,
		ManufacturerIndex: stringManufacturer,
		ProductIndex:      stringProduct,
		SerialNumberIndex: stringSerial,
		NumConfigurations: 1,
	}
	buf := make([]byte, usbd.DeviceDescriptorSize)
	dd.MarshalTo(buf)
	return buf
}

// ConfigurationDescriptor returns the full configuration: a communications
// interface with its functional descriptors and notification endpoint,
// followed by a data interface with the bulk pair.
func ConfigurationDescriptor(eps Endpoints) []byte {
	return usbd.NewConfigBuilder(1, 0, 50).
		Interface(InterfaceComm, 1, ClassCDC, SubclassACM, ProtocolAT).
		Raw([]byte{5, DescriptorTypeCSInterface, SubtypeHeader, 0x10, 0x01}).
		Raw([]byte{5, DescriptorTypeCSInterface, SubtypeCallManagement, 0, InterfaceData}).
		Raw([]byte{4, DescriptorTypeCSInterface, SubtypeACM, ACMCapLineCoding}).
		Raw([]byte{5, DescriptorTypeCSInterface, SubtypeUnion, InterfaceComm, InterfaceData}).
		Endpoint(eps.Notify, hal.TransferInterrupt, NotifyPacketSize, NotifyInterval).
		Interface(InterfaceData, 2, ClassCDCData, 0, ProtocolNone).
		Endpoint(eps.Out, hal.TransferBulk, MaxPacketSize, 1).
		Endpoint(eps.In, hal.TransferBulk, MaxPacketSize, 1).
		Bytes()
}

// Descriptors returns the complete descriptor set for the stack. An empty
// serial number is replaced with a generated one.
func Descriptors(info DeviceInfo, eps Endpoints) usbd.Descriptors {
	if info.SerialNumber == "" {
		info.SerialNumber = SerialNumber()
	}
	return usbd.Descriptors{
		Device:        DeviceDescriptor(info),
		Configuration: ConfigurationDescriptor(eps),
		Strings:       []string{info.Manufacturer, info.Product, info.SerialNumber},
	}
}

// SerialNumber returns a 24-digit upper-case hex serial number taken from
// a random UUID, the same shape as a 96-bit MCU unique ID.
func SerialNumber() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:12]))
}
