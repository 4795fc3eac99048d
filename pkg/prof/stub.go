//go:build !profile

package prof

// Enabled reports whether profiling support is compiled in.
func Enabled() bool { return false }

// Start does nothing without the "profile" build tag.
func Start(Options) (func() error, error) {
	return func() error { return nil }, nil
}
