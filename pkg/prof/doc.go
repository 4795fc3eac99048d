// Package prof captures runtime profiles of the bridge process.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/cdcuart
//
// Without the tag Start does nothing and Enabled reports false, so callers
// keep their profiling flags in place at no cost.
//
//	stop, err := prof.Start(prof.Options{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//	    return err
//	}
//	defer stop()
//
// Options.HTTP serves the net/http/pprof handlers on the given address for
// the life of the process.
package prof

import "errors"

// Options selects what Start captures. Empty fields are skipped.
type Options struct {
	CPU   string // CPU profile output path
	Heap  string // heap profile written when profiling stops
	Mutex bool   // record every mutex contention event
	Block bool   // record every blocking event
	HTTP  string // listen address for /debug/pprof/
}

// ErrActive indicates a profiling session is already running.
var ErrActive = errors.New("profiling already active")

// Requested reports whether any profile is selected.
func (o Options) Requested() bool {
	return o.CPU != "" || o.Heap != "" || o.Mutex || o.Block || o.HTTP != ""
}
