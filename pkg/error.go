package pkg

import "errors"

// Bridge errors. None of these are raised from interrupt-context paths;
// ring buffer and ISR operations report short counts instead.
var (
	// ErrStall indicates the control endpoint was stalled.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the device did not accept a packet.
	ErrNAK = errors.New("NAK received")

	// ErrNotConfigured indicates the USB device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the bridge is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the bridge is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotPowerOfTwo indicates a ring buffer storage length that is not a
	// power of two.
	ErrNotPowerOfTwo = errors.New("size is not a power of two")

	// ErrFaulted indicates the bridge entered its terminal fault state.
	ErrFaulted = errors.New("bridge faulted")
)
