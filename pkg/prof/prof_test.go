//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStart(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Mutex: true,
	}
	stop, err := Start(opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Start(Options{}); !errors.Is(err, ErrActive) {
		t.Errorf("second Start: error = %v, want ErrActive", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}

	for _, path := range []string{opts.CPU, opts.Heap} {
		fi, err := os.Stat(path)
		if err != nil {
			t.Errorf("%s: %v", filepath.Base(path), err)
			continue
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", filepath.Base(path))
		}
	}

	// a stopped session can be followed by another
	stop, err = Start(Options{})
	if err != nil {
		t.Fatal(err)
	}
	stop()
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	if err == nil {
		t.Fatal("expected an error")
	}
	stop, err := Start(Options{})
	if err != nil {
		t.Fatalf("failed start left the session active: %v", err)
	}
	stop()
}
