package icsp

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/pic18-flasher/internal/protocol"
	"github.com/bigbag/pic18-flasher/internal/rows"
)

// Transport is the byte channel to the ICSP bridge. ReadWithTimeout
// returns 0 bytes and a nil error when the timeout expires.
type Transport interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
}

var errTimeout = errors.New("timeout")

// Session drives the ICSP bridge through one low-voltage programming
// bracket. Every command waits for its full response before the next
// one is sent. A Session must not be shared between goroutines.
type Session struct {
	t      Transport
	cfg    Config
	log    zerolog.Logger
	active bool
	pc     uint32
}

// New creates a Session over t.
func New(t Transport, opts ...Option) *Session {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		t:   t,
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "icsp").Logger(),
	}
}

// Active reports whether the device is in programming mode.
func (s *Session) Active() bool {
	return s.active
}

// PC returns the last known device program counter.
func (s *Session) PC() uint32 {
	return s.pc
}

// LVPBegin puts the device into low-voltage programming mode.
func (s *Session) LVPBegin() error {
	if _, err := s.exchange(protocol.EnterLVP()); err != nil {
		return err
	}
	s.active = true
	s.log.Debug().Msg("entered LVP")
	return nil
}

// LVPEnd releases the device from programming mode. The session is
// considered idle afterwards even if the exchange fails.
func (s *Session) LVPEnd() error {
	s.active = false
	if _, err := s.exchange(protocol.ExitLVP()); err != nil {
		return err
	}
	s.log.Debug().Msg("exited LVP")
	return nil
}

// LoadPC moves the device program counter to addr.
func (s *Session) LoadPC(addr uint32) error {
	if !s.active {
		return ErrNotProgramming
	}
	if _, err := s.exchange(protocol.LoadPC(addr)); err != nil {
		return err
	}
	s.pc = addr
	return nil
}

// EraseDevice bulk-erases program memory.
func (s *Session) EraseDevice() error {
	if err := s.LoadPC(0); err != nil {
		return err
	}
	_, err := s.exchange(protocol.Erase())
	return err
}

// ProgramRow transfers a row payload to the bridge and commits it at
// the row address.
func (s *Session) ProgramRow(row *rows.Row) error {
	if !s.active {
		return ErrNotProgramming
	}
	if err := CheckWords(row); err != nil {
		return err
	}
	if _, err := s.exchange(protocol.ProgramRow(row.Address, row.Words())); err != nil {
		return err
	}
	if err := s.LoadPC(row.Address); err != nil {
		return err
	}
	_, err := s.exchange(protocol.Commit())
	return err
}

// ProgramWord writes a single word at addr and reads it back. A
// different read-back value is reported as *VerificationError.
func (s *Session) ProgramWord(addr uint32, word uint16) error {
	if err := s.LoadPC(addr); err != nil {
		return err
	}
	if _, err := s.exchange(protocol.WriteWord(word)); err != nil {
		return err
	}
	if _, err := s.exchange(protocol.Commit()); err != nil {
		return err
	}

	actual, err := s.ReadWord()
	if err != nil {
		return err
	}
	if actual != word {
		return &VerificationError{Address: addr, Expected: word, Actual: actual}
	}
	return nil
}

// ProgramWords writes every word of row individually, for locations
// that do not accept row writes. Read-back mismatches are collected and
// do not stop the remaining words; any other error does.
func (s *Session) ProgramWords(row *rows.Row) ([]Mismatch, error) {
	if err := CheckWords(row); err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	for i, w := range row.Words() {
		addr := row.Address + uint32(i*protocol.WireWordSize)
		err := s.ProgramWord(addr, uint16(w))

		var ve *VerificationError
		switch {
		case err == nil:
		case errors.As(err, &ve):
			mismatches = append(mismatches, Mismatch{
				Offset:   i,
				Address:  addr,
				Expected: ve.Expected,
				Actual:   ve.Actual,
			})
		default:
			return mismatches, fmt.Errorf("word %d at 0x%06X: %w", i, addr, err)
		}
	}
	return mismatches, nil
}

// VerifyRow reads row back word by word. Mismatches are returned, not
// treated as errors.
func (s *Session) VerifyRow(row *rows.Row) ([]Mismatch, error) {
	if err := CheckWords(row); err != nil {
		return nil, err
	}
	if err := s.LoadPC(row.Address); err != nil {
		return nil, err
	}

	var mismatches []Mismatch
	for i, w := range row.Words() {
		expected := uint16(w)
		actual, err := s.ReadWord()
		if err != nil {
			return mismatches, fmt.Errorf("verify word %d: %w", i, err)
		}
		if actual != expected {
			m := Mismatch{
				Offset:   i,
				Address:  row.Address + uint32(i*protocol.WireWordSize),
				Expected: expected,
				Actual:   actual,
			}
			s.log.Warn().
				Int("offset", m.Offset).
				Str("address", fmt.Sprintf("0x%06X", m.Address)).
				Str("expected", fmt.Sprintf("0x%04X", m.Expected)).
				Str("actual", fmt.Sprintf("0x%04X", m.Actual)).
				Msg("verify mismatch")
			mismatches = append(mismatches, m)
		}
	}
	return mismatches, nil
}

// ReadWord reads the word at the program counter, which then advances
// by one word.
func (s *Session) ReadWord() (uint16, error) {
	if !s.active {
		return 0, ErrNotProgramming
	}
	resp, err := s.exchange(protocol.ReadWord())
	if err != nil {
		return 0, err
	}
	word, err := resp.Word()
	if err != nil {
		return 0, &TransportError{Op: protocol.CommandName(protocol.CmdReadWord), Err: err}
	}
	s.pc += protocol.WireWordSize
	return word, nil
}

// CheckWords rejects a row holding any word wider than the 16-bit wire
// format.
func CheckWords(row *rows.Row) error {
	for i, w := range row.Words() {
		if w > 0xFFFF {
			return &WordRangeError{Address: row.WordAddress(i), Word: w}
		}
	}
	return nil
}

// exchange sends one frame and reads its complete response.
func (s *Session) exchange(req *protocol.Request) (*protocol.Response, error) {
	op := protocol.CommandName(req.Command)
	frame := req.Encode()

	s.log.Debug().Str("op", op).Hex("frame", frame).Msg("send")

	n, err := s.t.Write(frame)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if n != len(frame) {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("short write: %d of %d bytes", n, len(frame))}
	}

	raw, err := s.readFull(req.ResponseLen)
	if errors.Is(err, errTimeout) {
		s.log.Debug().Str("op", op).Hex("partial", raw).Msg("timeout")
		return nil, &TransportError{Op: op, Timeout: true}
	}
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	s.log.Debug().Str("op", op).Hex("response", raw).Msg("recv")

	resp, err := protocol.DecodeResponse(req, raw)
	if err != nil {
		te := &TransportError{Op: op, Err: err}
		if resp != nil {
			te.Status = resp.Status
		}
		return nil, te
	}
	return resp, nil
}

// readFull reads exactly n bytes or fails once the session timeout has
// elapsed.
func (s *Session) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	deadline := time.Now().Add(s.cfg.Timeout)
	got := 0

	for got < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf[:got], errTimeout
		}

		m, err := s.t.ReadWithTimeout(buf[got:], remaining)
		got += m
		if err != nil {
			return buf[:got], err
		}
		if m == 0 {
			return buf[:got], errTimeout
		}
	}

	return buf, nil
}
