package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrStall,
		ErrNAK,
		ErrNotConfigured,
		ErrInvalidEndpoint,
		ErrInvalidRequest,
		ErrBufferTooSmall,
		ErrNotSupported,
		ErrSetupPacketTooShort,
		ErrAlreadyRunning,
		ErrNotRunning,
		ErrInvalidParameter,
		ErrNotPowerOfTwo,
		ErrFaulted,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("ring storage 100 bytes: %w", ErrNotPowerOfTwo)
	if !errors.Is(err, ErrNotPowerOfTwo) {
		t.Errorf("errors.Is(%v, ErrNotPowerOfTwo) = false", err)
	}
	if errors.Is(err, ErrInvalidParameter) {
		t.Errorf("errors.Is(%v, ErrInvalidParameter) = true", err)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrStall, "endpoint stalled"},
		{ErrNotConfigured, "device not configured"},
		{ErrNotPowerOfTwo, "size is not a power of two"},
		{ErrFaulted, "bridge faulted"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
