// Package bridge wires a UART and a USB CDC-ACM function into a
// transparent serial bridge.
//
// A Bridge owns the two ring buffers that carry data between the sides:
//
//	host --OUT--> cdc.Bridge --> [toUART] --> uart.Transceiver --> wire
//	host <--IN--- cdc.Bridge <-- [toUSB]  <-- uart.Transceiver <-- wire
//
// The UART side runs from its peripheral's interrupt handler. The USB side
// runs from Poll, which Run calls on a fixed period:
//
//	b, err := bridge.New(bridge.DefaultConfig(), port, ctl)
//	if err != nil {
//	    return err
//	}
//	return b.Run(ctx)
//
// Bytes arriving from the wire while no terminal holds DTR are discarded.
// A fault (see Fault) is terminal: the bridge stops moving data and Run
// returns an error matching pkg.ErrFaulted.
package bridge
