package cdc

import "fmt"

// CDC class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24 // Class-specific Interface
	DescriptorTypeCSEndpoint  = 0x25 // Class-specific Endpoint
)

// CDC functional descriptor subtypes used by ACM.
const (
	SubtypeHeader         = 0x00 // Header Functional Descriptor
	SubtypeCallManagement = 0x01 // Call Management Functional Descriptor
	SubtypeACM            = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeUnion          = 0x06 // Union Functional Descriptor
)

// Class, subclass and protocol codes.
const (
	ClassCDC     = 0x02 // Communications Device Class
	ClassCDCData = 0x0A // CDC Data Class
	SubclassACM  = 0x02 // Abstract Control Model
	ProtocolNone = 0x00
	ProtocolAT   = 0x01 // AT Commands: V.250
)

// CDC request codes.
const (
	RequestSetLineCoding       = 0x20
	RequestGetLineCoding       = 0x21
	RequestSetControlLineState = 0x22
	RequestSendBreak           = 0x23
)

// Control line state bits (wValue of SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// ACM capability bits.
const (
	ACMCapCommFeature = 1 << 0 // Set/Get/Clear Comm Feature
	ACMCapLineCoding  = 1 << 1 // Line coding, control line state and serial state
	ACMCapSendBreak   = 1 << 2 // Send Break
)

// LineCodingSize is the size of an encoded LineCoding.
const LineCodingSize = 7

// Stop bit values (bCharFormat).
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2
)

// Parity values (bParityType).
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// LineCoding is the host's view of the serial line format.
type LineCoding struct {
	DTERate    uint32 // Baud rate
	CharFormat uint8  // Stop bits
	ParityType uint8  // Parity
	DataBits   uint8  // 5, 6, 7, 8 or 16
}

// DefaultLineCoding is 115200 8N1, the coding reported to GET_LINE_CODING.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the 7-byte encoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	buf[0] = byte(lc.DTERate)
	buf[1] = byte(lc.DTERate >> 8)
	buf[2] = byte(lc.DTERate >> 16)
	buf[3] = byte(lc.DTERate >> 24)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding decodes data into out. It returns false unless data is
// exactly LineCodingSize bytes.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) != LineCodingSize {
		return false
	}
	out.DTERate = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// String formats the coding as baud-bits-parity-stop, e.g. 115200-8N1.
func (lc LineCoding) String() string {
	parity := "?"
	switch lc.ParityType {
	case ParityNone:
		parity = "N"
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	case ParityMark:
		parity = "M"
	case ParitySpace:
		parity = "S"
	}
	stop := "?"
	switch lc.CharFormat {
	case StopBits1:
		stop = "1"
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d-%d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}
