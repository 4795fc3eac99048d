package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
	"github.com/ardnew/cdcuart/uart"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("uart:\n  port: /dev/ttyUSB0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UART.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.UART.Port)
	}
	b := cfg.Bridge()
	if b.UART != uart.DefaultConfig {
		t.Errorf("uart = %+v, want %+v", b.UART, uart.DefaultConfig)
	}
	if b.BufferSize != 256 || b.FullWake != ring.WakeAlways || b.PollInterval != time.Millisecond {
		t.Errorf("bridge config = %+v", b)
	}
	if b.Device.VendorID != 0x1209 || b.Device.ProductID != 0x0001 || b.Device.SerialNumber != "" {
		t.Errorf("device = %+v", b.Device)
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("level = %v", cfg.LogLevel())
	}
}

func TestParse_Full(t *testing.T) {
	doc := `
uart:
  port: COM3
  baud: 115200
  data_bits: 7
  stop_bits: 2
  parity: even
buffers:
  size: 1024
  full_wake: once
usb:
  vendor_id: 0x16c0
  product_id: 0x05e1
  manufacturer: Example
  product: Console
  serial: ABC123
poll:
  interval: 250us
log:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	b := cfg.Bridge()
	wantUART := uart.Config{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: uart.ParityEven}
	if b.UART != wantUART {
		t.Errorf("uart = %+v, want %+v", b.UART, wantUART)
	}
	if b.BufferSize != 1024 || b.FullWake != ring.WakeOnce {
		t.Errorf("buffers = %d %v", b.BufferSize, b.FullWake)
	}
	if b.Device.VendorID != 0x16C0 || b.Device.ProductID != 0x05E1 ||
		b.Device.Manufacturer != "Example" || b.Device.Product != "Console" || b.Device.SerialNumber != "ABC123" {
		t.Errorf("device = %+v", b.Device)
	}
	if b.PollInterval != 250*time.Microsecond {
		t.Errorf("interval = %v", b.PollInterval)
	}
	if cfg.LogLevel() != slog.LevelDebug || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"zero baud", "uart: {baud: 0}", "uart.baud"},
		{"data bits", "uart: {data_bits: 9}", "uart.data_bits"},
		{"stop bits", "uart: {stop_bits: 3}", "uart.stop_bits"},
		{"parity", "uart: {parity: mark}", "uart.parity"},
		{"buffer not power of two", "buffers: {size: 300}", "buffers.size"},
		{"buffer too small", "buffers: {size: 64}", "buffers.size"},
		{"full wake", "buffers: {full_wake: never}", "buffers.full_wake"},
		{"poll interval", "poll: {interval: -1ms}", "poll.interval"},
		{"log level", "log: {level: loud}", "log.level"},
		{"log format", "log: {format: xml}", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Fatalf("error = %v, want ErrInvalidParameter", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("uart: [")); err == nil {
		t.Error("expected a YAML error")
	}
	if _, err := Parse([]byte("usb: {vendor_id: 70000}")); err == nil {
		t.Error("expected an overflow error")
	}
}

func TestValidate_Multiple(t *testing.T) {
	cfg := Default()
	cfg.UART.Baud = 0
	cfg.Buffers.Size = 100
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "uart.baud") || !strings.Contains(msg, "buffers.size") {
		t.Errorf("error %q does not report both fields", msg)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdcuart.yaml")
	if err := os.WriteFile(path, []byte("uart:\n  port: /dev/ttyACM0\n  baud: 9600\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UART.Port != "/dev/ttyACM0" || cfg.UART.Baud != 9600 {
		t.Errorf("uart = %+v", cfg.UART)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: error = %v", err)
	}

	cfg, err = Load("")
	if err != nil || cfg.UART.Baud != 19200 {
		t.Errorf("empty path: %+v, %v", cfg, err)
	}
}

func TestParseParity(t *testing.T) {
	tests := []struct {
		name string
		want uart.Parity
		ok   bool
	}{
		{"", uart.ParityNone, true},
		{"None", uart.ParityNone, true},
		{"e", uart.ParityEven, true},
		{"odd", uart.ParityOdd, true},
		{"space", uart.ParityNone, false},
	}
	for _, tt := range tests {
		got, err := ParseParity(tt.name)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseParity(%q) = %v, %v", tt.name, got, err)
		}
	}
}
