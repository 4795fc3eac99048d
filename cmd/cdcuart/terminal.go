package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-tty"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/usbd/class/cdc"
	"github.com/ardnew/cdcuart/usbd/hal/sim"
)

// escapeKey ends the session (Ctrl-]).
const escapeKey = 0x1D

// bulkHost is the part of the simulated host the terminal drives.
type bulkHost interface {
	SendOut(data []byte) bool
	ReceiveIn(buf []byte) int
}

// session shuttles bytes between a terminal and the host's bulk endpoints.
// Keystrokes queue until the device accepts them; nothing typed is lost
// while the device NAKs.
type session struct {
	host    bulkHost
	out     io.Writer
	pending []byte
	in      [cdc.MaxPacketSize]byte
}

// feed queues keystrokes and reports whether the escape key was among them.
// Bytes after the escape key are dropped.
func (s *session) feed(keys []byte) bool {
	for i, c := range keys {
		if c == escapeKey {
			s.pending = append(s.pending, keys[:i]...)
			return true
		}
	}
	s.pending = append(s.pending, keys...)
	return false
}

// step offers one OUT packet and prints one IN packet.
func (s *session) step() error {
	if len(s.pending) > 0 {
		n := min(len(s.pending), cdc.MaxPacketSize)
		if s.host.SendOut(s.pending[:n]) {
			s.pending = s.pending[n:]
		}
	}
	if n := s.host.ReceiveIn(s.in[:]); n > 0 {
		if _, err := s.out.Write(s.in[:n]); err != nil {
			return fmt.Errorf("terminal write: %w", err)
		}
	}
	return nil
}

// runTerminal puts the controlling terminal in raw mode and runs a session
// until Ctrl-] is pressed or ctx is done.
func runTerminal(ctx context.Context, host *sim.Host, interval time.Duration) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer t.Close()

	restore, err := t.Raw()
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer restore()

	fmt.Fprint(t.Output(), "connected; press Ctrl-] to exit\r\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan []byte, 16)
	go readKeys(ctx, t.Input(), keys)

	s := &session{host: host, out: t.Output()}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok || s.feed(k) {
				// flush whatever preceded the escape key
				for i := 0; i < 64 && len(s.pending) > 0; i++ {
					if err := s.step(); err != nil {
						return err
					}
					time.Sleep(interval)
				}
				return nil
			}
		case <-ticker.C:
			if err := s.step(); err != nil {
				return err
			}
		}
	}
}

func readKeys(ctx context.Context, r io.Reader, keys chan<- []byte) {
	defer close(keys)
	var buf [cdc.MaxPacketSize]byte
	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			select {
			case keys <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			pkg.LogDebug(component, "terminal input closed", "error", err)
			return
		}
	}
}
