package icsp

import (
	"errors"
	"fmt"

	"github.com/bigbag/pic18-flasher/internal/protocol"
)

// ErrNotProgramming is returned by operations issued outside an LVP bracket.
var ErrNotProgramming = errors.New("device is not in programming mode")

// TransportError indicates a failed exchange with the bridge: a write
// error, a timeout or a malformed reply. It is fatal to the session.
type TransportError struct {
	Op      string
	Timeout bool
	Status  byte
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: timeout waiting for response", e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, protocol.StatusMessage(e.Status))
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VerificationError indicates a word that read back differently from
// what was written.
type VerificationError struct {
	Address  uint32
	Expected uint16
	Actual   uint16
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at 0x%06X: expected 0x%04X, got 0x%04X",
		e.Address, e.Expected, e.Actual)
}

// WordRangeError indicates a word that does not fit in 16 bits.
type WordRangeError struct {
	Address uint32
	Word    uint32
}

func (e *WordRangeError) Error() string {
	return fmt.Sprintf("word 0x%X at 0x%06X does not fit in 16 bits", e.Word, e.Address)
}

// Mismatch describes one word of a row that failed verification.
type Mismatch struct {
	Offset   int
	Address  uint32
	Expected uint16
	Actual   uint16
}

// Err converts the mismatch to a *VerificationError.
func (m Mismatch) Err() *VerificationError {
	return &VerificationError{
		Address:  m.Address,
		Expected: m.Expected,
		Actual:   m.Actual,
	}
}
