package uart

// Status is a snapshot of the peripheral's level-triggered flags.
type Status uint8

// Status flags.
const (
	StatusRXNE Status = 1 << iota // Receive data register not empty
	StatusTXE                     // Transmit data register empty
	StatusORE                     // Receive overrun (a byte was lost)
)

// Parity defines the parity setting used for UART communication.
type Parity uint8

const (
	// ParityNone disables parity generation and checking.
	ParityNone Parity = iota
	// ParityEven sets even parity.
	ParityEven
	// ParityOdd sets odd parity.
	ParityOdd
)

// String returns the configuration name of the parity setting.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "unknown"
	}
}

// Config is the fixed line configuration applied at start.
type Config struct {
	BaudRate uint32
	DataBits uint8
	StopBits uint8
	Parity   Parity
}

// DefaultConfig is 19200 baud, 8 data bits, 1 stop bit, no parity.
var DefaultConfig = Config{
	BaudRate: 19200,
	DataBits: 8,
	StopBits: 1,
	Parity:   ParityNone,
}

// Peripheral is the hardware boundary of a UART.
//
// The handler installed with SetHandler is the interrupt service routine.
// The peripheral calls it whenever RXNE is set with the receive interrupt
// enabled, or TXE is set with the transmit interrupt enabled. Calls to the
// handler are never concurrent with each other.
type Peripheral interface {
	// Configure applies the line settings.
	Configure(cfg Config) error

	// SetHandler installs the interrupt service routine.
	SetHandler(isr func())

	// Status returns the current flags.
	Status() Status

	// ReadData returns the received byte and clears RXNE and ORE.
	ReadData() byte

	// WriteData loads a byte for transmission and clears TXE until the
	// byte has been taken by the shifter.
	WriteData(c byte)

	// EnableTxInterrupt unmasks the TXE interrupt.
	EnableTxInterrupt()

	// DisableTxInterrupt masks the TXE interrupt.
	DisableTxInterrupt()

	// TxInterruptEnabled reports whether the TXE interrupt is unmasked.
	TxInterruptEnabled() bool

	// EnableRxInterrupt unmasks the RXNE interrupt.
	EnableRxInterrupt()
}
