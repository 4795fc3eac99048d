// Package config loads the bridge configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/cdcuart/bridge"
	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/ring"
	"github.com/ardnew/cdcuart/uart"
	"github.com/ardnew/cdcuart/usbd/class/cdc"
)

// Config is the on-disk configuration.
type Config struct {
	UART    UART    `yaml:"uart"`
	Buffers Buffers `yaml:"buffers"`
	USB     USB     `yaml:"usb"`
	Poll    Poll    `yaml:"poll"`
	Log     Log     `yaml:"log"`
}

// UART selects the serial device and its fixed line format.
type UART struct {
	Port     string `yaml:"port"`
	Baud     uint32 `yaml:"baud"`
	DataBits uint8  `yaml:"data_bits"`
	StopBits uint8  `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // none, even, odd
}

// Buffers sizes the two ring buffers.
type Buffers struct {
	Size     int    `yaml:"size"`
	FullWake string `yaml:"full_wake"` // always, once
}

// USB identifies the device to the host.
type USB struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	Serial       string `yaml:"serial"` // generated when empty
}

// Poll sets the USB service period.
type Poll struct {
	Interval time.Duration `yaml:"interval"`
}

// Log selects the log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used for absent fields.
func Default() *Config {
	d := bridge.DefaultConfig()
	return &Config{
		UART: UART{
			Baud:     d.UART.BaudRate,
			DataBits: d.UART.DataBits,
			StopBits: d.UART.StopBits,
			Parity:   d.UART.Parity.String(),
		},
		Buffers: Buffers{
			Size:     d.BufferSize,
			FullWake: d.FullWake.String(),
		},
		USB: USB{
			VendorID:     d.Device.VendorID,
			ProductID:    d.Device.ProductID,
			Manufacturer: d.Device.Manufacturer,
			Product:      d.Device.Product,
		},
		Poll: Poll{Interval: d.PollInterval},
		Log:  Log{Level: "warn", Format: "text"},
	}
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.LogDebug(pkg.ComponentConfig, "configuration loaded", "path", path)
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field string, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s: %w", field, fmt.Sprintf(format, args...), pkg.ErrInvalidParameter))
	}

	if c.UART.Baud == 0 {
		fail("uart.baud", "must be positive")
	}
	if c.UART.DataBits < 5 || c.UART.DataBits > 8 {
		fail("uart.data_bits", "%d not in 5..8", c.UART.DataBits)
	}
	if c.UART.StopBits != 1 && c.UART.StopBits != 2 {
		fail("uart.stop_bits", "%d not 1 or 2", c.UART.StopBits)
	}
	if _, err := ParseParity(c.UART.Parity); err != nil {
		errs = append(errs, fmt.Errorf("uart.parity: %w", err))
	}

	if n := c.Buffers.Size; n < bridge.MinBufferSize || n&(n-1) != 0 {
		fail("buffers.size", "%d is not a power of two of at least %d", n, bridge.MinBufferSize)
	}
	if _, err := ring.ParseFullWake(c.Buffers.FullWake); err != nil {
		errs = append(errs, fmt.Errorf("buffers.full_wake: %w", err))
	}

	if c.Poll.Interval <= 0 {
		fail("poll.interval", "%v must be positive", c.Poll.Interval)
	}

	if _, ok := pkg.ParseLogLevel(c.Log.Level); !ok {
		fail("log.level", "unknown level %q", c.Log.Level)
	}
	if _, ok := ParseLogFormat(c.Log.Format); !ok {
		fail("log.format", "unknown format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// Bridge converts a validated configuration to bridge parameters.
func (c *Config) Bridge() bridge.Config {
	parity, _ := ParseParity(c.UART.Parity)
	wake, _ := ring.ParseFullWake(c.Buffers.FullWake)
	return bridge.Config{
		UART: uart.Config{
			BaudRate: c.UART.Baud,
			DataBits: c.UART.DataBits,
			StopBits: c.UART.StopBits,
			Parity:   parity,
		},
		BufferSize: c.Buffers.Size,
		FullWake:   wake,
		Device: cdc.DeviceInfo{
			VendorID:     c.USB.VendorID,
			ProductID:    c.USB.ProductID,
			Manufacturer: c.USB.Manufacturer,
			Product:      c.USB.Product,
			SerialNumber: c.USB.Serial,
		},
		PollInterval: c.Poll.Interval,
	}
}

// ApplyLogging sets the package log level and format.
func (c *Config) ApplyLogging() {
	level, _ := pkg.ParseLogLevel(c.Log.Level)
	format, _ := ParseLogFormat(c.Log.Format)
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)
}

// ParseParity converts a parity name to a uart.Parity.
func ParseParity(name string) (uart.Parity, error) {
	switch strings.ToLower(name) {
	case "", "none", "n":
		return uart.ParityNone, nil
	case "even", "e":
		return uart.ParityEven, nil
	case "odd", "o":
		return uart.ParityOdd, nil
	default:
		return uart.ParityNone, fmt.Errorf("parity %q: %w", name, pkg.ErrInvalidParameter)
	}
}

// ParseLogFormat converts text or json to a pkg.LogFormat.
func ParseLogFormat(name string) (pkg.LogFormat, bool) {
	switch strings.ToLower(name) {
	case "", "text":
		return pkg.LogFormatText, true
	case "json":
		return pkg.LogFormatJSON, true
	default:
		return pkg.LogFormatText, false
	}
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() slog.Level {
	level, _ := pkg.ParseLogLevel(c.Log.Level)
	return level
}
