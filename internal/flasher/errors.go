package flasher

import (
	"fmt"

	"github.com/bigbag/pic18-flasher/internal/icsp"
)

// VerifyFailedError aggregates every word that failed verification
// during a flash run.
type VerifyFailedError struct {
	Mismatches []icsp.Mismatch
}

func (e *VerifyFailedError) Error() string {
	if len(e.Mismatches) == 0 {
		return "verification failed"
	}
	first := e.Mismatches[0]
	return fmt.Sprintf("verification failed: %d mismatched words, first at 0x%06X (expected 0x%04X, got 0x%04X)",
		len(e.Mismatches), first.Address, first.Expected, first.Actual)
}

// Unwrap exposes each mismatch as an *icsp.VerificationError.
func (e *VerifyFailedError) Unwrap() []error {
	errs := make([]error, len(e.Mismatches))
	for i, m := range e.Mismatches {
		errs[i] = m.Err()
	}
	return errs
}

// DeviceStateUnknownError indicates that the device could not be taken
// out of programming mode, so its state is undefined.
type DeviceStateUnknownError struct {
	Err     error
	ExitErr error
}

func (e *DeviceStateUnknownError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit LVP failed: %v (device state unknown)", e.ExitErr)
	}
	return fmt.Sprintf("%v; exit LVP failed: %v (device state unknown)", e.Err, e.ExitErr)
}

func (e *DeviceStateUnknownError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.ExitErr}
	}
	return []error{e.Err, e.ExitErr}
}
