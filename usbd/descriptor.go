package usbd

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/cdcuart/pkg"
)

// Descriptor types (USB 2.0 Table 9-5).
const (
	DescriptorTypeDevice          = 0x01
	DescriptorTypeConfiguration   = 0x02
	DescriptorTypeString          = 0x03
	DescriptorTypeInterface       = 0x04
	DescriptorTypeEndpoint        = 0x05
	DescriptorTypeDeviceQualifier = 0x06
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
)

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// Descriptors is the descriptor set served to GET_DESCRIPTOR.
type Descriptors struct {
	// Device is the 18-byte device descriptor.
	Device []byte

	// Configuration is the full configuration descriptor including every
	// interface, functional and endpoint descriptor.
	Configuration []byte

	// Strings holds UTF-8 strings for string indices 1..n. Index 0 is the
	// language table and is generated.
	Strings []string
}

// DeviceDescriptor holds the fields of a device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if len(data) < DeviceDescriptorSize {
		return pkg.ErrBufferTooSmall
	}
	if data[1] != DescriptorTypeDevice {
		return pkg.ErrInvalidParameter
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigBuilder assembles a configuration descriptor. The header's total
// length and interface count are filled in by Bytes.
type ConfigBuilder struct {
	buf        []byte
	interfaces uint8
}

// NewConfigBuilder starts a configuration with the given value, attributes
// and maximum power in 2 mA units.
func NewConfigBuilder(value, attributes, maxPower uint8) *ConfigBuilder {
	b := &ConfigBuilder{buf: make([]byte, ConfigurationDescriptorSize, 128)}
	b.buf[0] = ConfigurationDescriptorSize
	b.buf[1] = DescriptorTypeConfiguration
	b.buf[5] = value
	b.buf[7] = attributes | ConfigAttrBusPowered
	b.buf[8] = maxPower
	return b
}

// Interface appends an interface descriptor.
func (b *ConfigBuilder) Interface(number, numEndpoints, class, subclass, protocol uint8) *ConfigBuilder {
	b.buf = append(b.buf,
		InterfaceDescriptorSize, DescriptorTypeInterface,
		number, 0, numEndpoints, class, subclass, protocol, 0)
	b.interfaces++
	return b
}

// Endpoint appends an endpoint descriptor.
func (b *ConfigBuilder) Endpoint(address, attributes uint8, maxPacket uint16, interval uint8) *ConfigBuilder {
	b.buf = append(b.buf,
		EndpointDescriptorSize, DescriptorTypeEndpoint,
		address, attributes, byte(maxPacket), byte(maxPacket>>8), interval)
	return b
}

// Raw appends a pre-encoded descriptor such as a class functional
// descriptor.
func (b *ConfigBuilder) Raw(desc []byte) *ConfigBuilder {
	b.buf = append(b.buf, desc...)
	return b
}

// Bytes returns the finished descriptor.
func (b *ConfigBuilder) Bytes() []byte {
	binary.LittleEndian.PutUint16(b.buf[2:4], uint16(len(b.buf)))
	b.buf[4] = b.interfaces
	return b.buf
}

// WalkDescriptors calls fn for each descriptor in a concatenated
// descriptor block until fn returns false. Truncated trailing data is
// ignored.
func WalkDescriptors(data []byte, fn func(descType uint8, desc []byte) bool) {
	for len(data) >= 2 {
		n := int(data[0])
		if n < 2 || n > len(data) {
			return
		}
		if !fn(data[1], data[:n]) {
			return
		}
		data = data[n:]
	}
}

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (255 - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	length := 2 + 2*len(units)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return length
}

// ParseStringDescriptor decodes a string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if len(data) < 2 || int(data[0]) > len(data) || data[1] != DescriptorTypeString {
		return "", pkg.ErrInvalidParameter
	}
	n := (int(data[0]) - 2) / 2
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2+2*i:])
	}
	return string(utf16.Decode(units)), nil
}

// LanguageDescriptorTo writes the string index 0 language table to buf.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + 2*len(langIDs)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return length
}
