//go:build profile

package prof

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/ on http.DefaultServeMux
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/cdcuart/pkg"
)

const component pkg.Component = "prof"

var (
	mu     sync.Mutex
	active bool
)

// Enabled reports whether profiling support is compiled in.
func Enabled() bool { return true }

// Start begins a profiling session. The returned function stops CPU
// profiling, writes the heap profile and restores the sampling rates.
func Start(opts Options) (func() error, error) {
	mu.Lock()
	defer mu.Unlock()
	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		cpu = f
	}
	if opts.Mutex {
		runtime.SetMutexProfileFraction(1)
	}
	if opts.Block {
		runtime.SetBlockProfileRate(1)
	}
	if opts.HTTP != "" {
		go func() {
			if err := http.ListenAndServe(opts.HTTP, nil); err != nil {
				pkg.LogWarn(component, "pprof listener stopped", "error", err)
			}
		}()
	}
	active = true
	pkg.LogDebug(component, "profiling started",
		"cpu", opts.CPU,
		"heap", opts.Heap,
		"http", opts.HTTP)

	var once sync.Once
	var stopErr error
	stop := func() error {
		once.Do(func() { stopErr = finish(opts, cpu) })
		return stopErr
	}
	return stop, nil
}

func finish(opts Options, cpu *os.File) error {
	mu.Lock()
	defer mu.Unlock()
	active = false

	var err error
	if cpu != nil {
		pprof.StopCPUProfile()
		err = cpu.Close()
	}
	if opts.Mutex {
		runtime.SetMutexProfileFraction(0)
	}
	if opts.Block {
		runtime.SetBlockProfileRate(0)
	}
	if opts.Heap != "" {
		if herr := writeHeap(opts.Heap); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap profile: %w", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
		return fmt.Errorf("heap profile: %w", err)
	}
	return nil
}
