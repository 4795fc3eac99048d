package ring

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/ardnew/cdcuart/pkg"
)

// DefaultSize is the recommended storage length for bridge buffers.
const DefaultSize = 256

// WriteObserver is notified synchronously from within Write.
//
// OnWrite may run at interrupt priority (for example, from a UART receive
// handler), so implementations must not block, must not allocate, and must
// return quickly. Arming a transmitter or flushing a buffer is the intended
// amount of work.
type WriteObserver interface {
	OnWrite()
}

// ObserverFunc adapts an ordinary function to a WriteObserver.
type ObserverFunc func()

// OnWrite calls f.
func (f ObserverFunc) OnWrite() { f() }

// FullWake selects when a write that stores nothing notifies the observer.
type FullWake uint8

// Full-buffer wake policies.
const (
	// WakeAlways notifies on every write that leaves the buffer full, even
	// when it stored zero bytes.
	WakeAlways FullWake = iota
	// WakeOnce notifies on the first refused write after the buffer filled
	// and stays quiet until a later write stores bytes again.
	WakeOnce
)

// String returns the policy name used in configuration files.
func (w FullWake) String() string {
	switch w {
	case WakeAlways:
		return "always"
	case WakeOnce:
		return "once"
	default:
		return "unknown"
	}
}

// ParseFullWake converts a configuration name to a FullWake policy.
func ParseFullWake(name string) (FullWake, error) {
	switch name {
	case "", "always":
		return WakeAlways, nil
	case "once":
		return WakeOnce, nil
	default:
		return WakeAlways, fmt.Errorf("full wake policy %q: %w", name, pkg.ErrInvalidParameter)
	}
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithObserver registers the write observer.
func WithObserver(o WriteObserver) Option {
	return func(b *Buffer) { b.observer = o }
}

// WithFullWake selects the full-buffer wake policy.
func WithFullWake(w FullWake) Option {
	return func(b *Buffer) { b.fullWake = w }
}

// Buffer is a fixed-capacity single-producer/single-consumer byte FIFO.
//
// The storage length must be a power of two; one slot is reserved so that
// head == tail means empty and head+1 == tail means full, giving len-1
// usable bytes.
//
// Exactly one context may call the producer methods (Write, Put) and one
// context the consumer methods (Read, Get) at a time. No lock is taken.
// The producer publishes head with an atomic store after the data bytes are
// in place; the consumer publishes tail the same way. Flush may be called
// from either side: the consumer commits tail with a compare-and-swap so a
// concurrent flush wins instead of being overwritten.
//
// Every method is a no-op on a nil *Buffer, so components can be wired in
// any order.
type Buffer struct {
	head atomic.Uint32
	_    cpu.CacheLinePad
	tail atomic.Uint32
	_    cpu.CacheLinePad

	buf  []byte
	mask uint32

	observer WriteObserver
	fullWake FullWake

	// producer-only
	fullWoken bool
}

// New returns a Buffer over storage. The storage is retained, never copied
// or resized.
func New(storage []byte, opts ...Option) (*Buffer, error) {
	size := len(storage)
	if size < 2 || size&(size-1) != 0 || uint64(size) > 1<<31 {
		return nil, fmt.Errorf("ring storage %d bytes: %w", size, pkg.ErrNotPowerOfTwo)
	}
	b := &Buffer{
		buf:  storage,
		mask: uint32(size - 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MustNew is like New but panics on an invalid storage length.
func MustNew(storage []byte, opts ...Option) *Buffer {
	b, err := New(storage, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// SetObserver replaces the write observer. It must be called before the
// buffer is shared between contexts.
func (b *Buffer) SetObserver(o WriteObserver) {
	if b == nil {
		return
	}
	b.observer = o
}

// SetFullWake replaces the full-buffer wake policy. Like SetObserver it is
// a wiring-time call.
func (b *Buffer) SetFullWake(w FullWake) {
	if b == nil {
		return
	}
	b.fullWake = w
}

// Size returns the storage length.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.buf)
}

// Cap returns the number of usable bytes (Size-1).
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return int(b.mask)
}

// IsEmpty reports whether no bytes are readable.
func (b *Buffer) IsEmpty() bool {
	if b == nil {
		return true
	}
	return b.head.Load() == b.tail.Load()
}

// IsFull reports whether no bytes can be written.
func (b *Buffer) IsFull() bool {
	if b == nil {
		return false
	}
	return (b.head.Load()+1)&b.mask == b.tail.Load()
}

// Count returns the number of readable bytes.
func (b *Buffer) Count() int {
	if b == nil {
		return 0
	}
	return int((b.head.Load() - b.tail.Load()) & b.mask)
}

// Free returns the number of writable bytes.
func (b *Buffer) Free() int {
	if b == nil {
		return 0
	}
	return int(b.mask) - b.Count()
}

// Flush discards all unread bytes by moving tail to head.
func (b *Buffer) Flush() {
	if b == nil {
		return
	}
	b.tail.Store(b.head.Load())
}

// Write stores as many bytes of p as fit and returns the count stored.
//
// If an observer is registered it is called exactly once, before Write
// returns, when at least one byte was stored or the buffer is full
// afterwards (subject to the FullWake policy for zero-byte writes). A
// refused write still wakes the observer so a stalled consumer is prompted
// to drain.
func (b *Buffer) Write(p []byte) int {
	if b == nil {
		return 0
	}
	h := b.head.Load()
	t := b.tail.Load()
	free := (t - h - 1) & b.mask

	n := uint32(len(p))
	if n > free {
		n = free
	}
	if n > 0 {
		// copy in at most two segments: [h, end) then [0, rest)
		first := uint32(len(b.buf)) - h
		if first > n {
			first = n
		}
		copy(b.buf[h:h+first], p[:first])
		copy(b.buf[:n-first], p[first:n])
		b.head.Store((h + n) & b.mask)
	}

	if b.observer != nil {
		switch {
		case n > 0:
			b.fullWoken = false
			b.observer.OnWrite()
		case b.IsFull():
			if b.fullWake == WakeOnce && b.fullWoken {
				break
			}
			b.fullWoken = true
			b.observer.OnWrite()
		}
	}
	return int(n)
}

// Read copies up to len(dst) bytes out of the buffer and returns the count.
// Read never notifies the observer.
func (b *Buffer) Read(dst []byte) int {
	if b == nil {
		return 0
	}
	t := b.tail.Load()
	h := b.head.Load()
	avail := (h - t) & b.mask

	n := uint32(len(dst))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	first := uint32(len(b.buf)) - t
	if first > n {
		first = n
	}
	copy(dst[:first], b.buf[t:t+first])
	copy(dst[first:n], b.buf[:n-first])

	if !b.tail.CompareAndSwap(t, (t+n)&b.mask) {
		// flushed underneath us; the bytes were discarded
		return 0
	}
	return int(n)
}

// Put stores one byte, silently dropping it when the buffer is full. It
// reports whether the byte was stored. Put never notifies the observer.
func (b *Buffer) Put(c byte) bool {
	if b == nil {
		return false
	}
	h := b.head.Load()
	next := (h + 1) & b.mask
	if next == b.tail.Load() {
		return false
	}
	b.buf[h] = c
	b.head.Store(next)
	return true
}

// Get removes and returns one byte. ok is false when the buffer is empty.
func (b *Buffer) Get() (c byte, ok bool) {
	if b == nil {
		return 0, false
	}
	t := b.tail.Load()
	if t == b.head.Load() {
		return 0, false
	}
	c = b.buf[t]
	if !b.tail.CompareAndSwap(t, (t+1)&b.mask) {
		return 0, false
	}
	return c, true
}
