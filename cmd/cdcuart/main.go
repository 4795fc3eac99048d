// Command cdcuart bridges a terminal to a serial port through a USB CDC-ACM
// device model.
//
// The bridge runs exactly as it would on a microcontroller: the serial
// port is driven through the UART transceiver and the USB side is a
// CDC-ACM function on a simulated controller. This process also plays the
// USB host, enumerating the device, asserting DTR and moving keystrokes
// and output through the bulk endpoints.
//
// Usage:
//
//	cdcuart [options]
//
// Options:
//
//	-config path    YAML configuration file
//	-port name      serial device (overrides uart.port)
//	-baud rate      line rate (overrides uart.baud)
//	-list           list serial devices and exit
//	-v              enable verbose (debug) logging
//	-json           use JSON log format
//	-cpuprofile f   write a CPU profile (profile build tag)
//	-memprofile f   write a heap profile on exit (profile build tag)
//
// Press Ctrl-] to exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardnew/cdcuart/bridge"
	"github.com/ardnew/cdcuart/pkg"
	"github.com/ardnew/cdcuart/pkg/config"
	"github.com/ardnew/cdcuart/pkg/prof"
	"github.com/ardnew/cdcuart/pkg/usbid"
	"github.com/ardnew/cdcuart/uart/hal/serialport"
	"github.com/ardnew/cdcuart/usbd/hal/sim"
)

// component identifies this executable for structured logging.
const component pkg.Component = "cdcuart"

const (
	enumTimeout  = 5 * time.Second
	portCheck    = 100 * time.Millisecond
	detachWindow = time.Second
)

var errNoPort = errors.New("no serial port selected (use -port or uart.port)")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML configuration file")
	portName := flag.String("port", "", "serial device (overrides uart.port)")
	baud := flag.Uint("baud", 0, "line rate (overrides uart.baud)")
	list := flag.Bool("list", false, "list serial devices and exit")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to file")
	memProfile := flag.String("memprofile", "", "write a heap profile to file on exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		pkg.LogError(component, "invalid configuration", "error", err)
		return 1
	}
	cfg.ApplyLogging()
	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *list {
		return listPorts()
	}

	if *portName != "" {
		cfg.UART.Port = *portName
	}
	if *baud != 0 {
		cfg.UART.Baud = uint32(*baud)
	}
	if cfg.UART.Port == "" {
		pkg.LogError(component, "cannot start", "error", errNoPort)
		return 2
	}

	popts := prof.Options{CPU: *cpuProfile, Heap: *memProfile}
	if popts.Requested() && !prof.Enabled() {
		pkg.LogWarn(component, "profiling requested but not built in", "tag", "profile")
	}
	stopProf, err := prof.Start(popts)
	if err != nil {
		pkg.LogError(component, "failed to start profiling", "error", err)
		return 1
	}
	defer func() {
		if err := stopProf(); err != nil {
			pkg.LogWarn(component, "profile not written", "error", err)
		}
	}()

	if err := serve(cfg); err != nil {
		pkg.LogError(component, "bridge stopped", "error", err)
		return 1
	}
	return 0
}

func serve(cfg *config.Config) error {
	bcfg := cfg.Bridge()

	port, err := serialport.Open(cfg.UART.Port, bcfg.UART)
	if err != nil {
		return err
	}
	defer port.Close()

	ctl := sim.New()
	b, err := bridge.New(bcfg, port, ctl)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b.SetFaultIndicator(func(error) { cancel() })
	go watchPort(ctx, port, b)

	if err := b.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	host := sim.NewHost(ctl, nil)
	ectx, ecancel := context.WithTimeout(ctx, enumTimeout)
	err = host.Enumerate(ectx)
	ecancel()
	if err != nil {
		cancel()
		<-done
		return fmt.Errorf("enumeration: %w", err)
	}
	dev := host.Device()
	db, _ := usbid.Open()
	pkg.LogInfo(component, "device enumerated",
		"port", port.Name(),
		"device", db.Describe(dev.VendorID, dev.ProductID),
		"address", ctl.Address())

	if err := host.SetControlLineState(ctx, true, true); err != nil {
		cancel()
		<-done
		return fmt.Errorf("assert DTR: %w", err)
	}

	termErr := runTerminal(ctx, host, bcfg.PollInterval)

	// the terminal is gone; tell the device before detaching
	dctx, dcancel := context.WithTimeout(context.Background(), detachWindow)
	if err := host.SetControlLineState(dctx, false, false); err != nil && ctx.Err() == nil {
		pkg.LogWarn(component, "failed to deassert DTR", "error", err)
	}
	dcancel()

	cancel()
	runErr := <-done

	st := b.Stats()
	pkg.LogInfo(component, "session closed",
		"toWire", st.UART.TxBytes,
		"fromWire", st.UART.RxBytes,
		"overruns", st.UART.Overruns,
		"deferred", st.CDC.RxDeferred)

	if termErr != nil {
		return termErr
	}
	if errors.Is(runErr, pkg.ErrFaulted) {
		return runErr
	}
	return nil
}

// watchPort faults the bridge when the serial device fails.
func watchPort(ctx context.Context, port *serialport.Port, b *bridge.Bridge) {
	ticker := time.NewTicker(portCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := port.Err(); err != nil {
				b.Fault(fmt.Errorf("serial port %s: %w", port.Name(), err))
				return
			}
		}
	}
}

func listPorts() int {
	ports, err := serialport.Ports()
	if err != nil {
		pkg.LogError(component, "failed to list ports", "error", err)
		return 1
	}
	db, err := usbid.Open()
	if err != nil {
		pkg.LogDebug(component, "usb id database unavailable", "error", err)
	}
	for _, p := range ports {
		if !p.USB {
			fmt.Println(p.Name)
			continue
		}
		line := p.Name + "\t" + db.Describe(p.VendorID, p.ProductID)
		if p.SerialNumber != "" {
			line += "\tserial " + p.SerialNumber
		}
		fmt.Println(line)
	}
	return 0
}
