// Package ring implements the fixed-capacity byte FIFO that carries data
// between the USB and UART halves of the bridge.
//
// A [Buffer] has exactly one producer and one consumer. Index updates are
// atomic stores made after the data bytes they cover, so the consumer never
// observes a head that runs ahead of the data. Nothing in this package
// blocks, allocates after construction, or takes a lock, which keeps every
// method usable from interrupt handlers.
//
// # Observers
//
// A buffer may carry a [WriteObserver]. Write invokes it synchronously when
// bytes were stored or when the buffer is left full, so a transmitter on the
// consumer side can be armed without polling:
//
//	storage := make([]byte, ring.DefaultSize)
//	rb := ring.MustNew(storage, ring.WithObserver(uart))
//	rb.Write(packet) // calls uart.OnWrite() before returning
//
// Put and Read never call the observer.
package ring
