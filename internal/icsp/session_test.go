package icsp

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/bigbag/pic18-flasher/internal/protocol"
	"github.com/bigbag/pic18-flasher/internal/rows"
	"github.com/bigbag/pic18-flasher/internal/sim"
)

// scriptedTransport replays canned reads and records writes.
type scriptedTransport struct {
	written  bytes.Buffer
	reads    [][]byte
	writeErr error
	shortBy  int
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written.Write(p)
	return len(p) - s.shortBy, nil
}

func (s *scriptedTransport) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	if len(s.reads) == 0 {
		return 0, nil
	}
	n := copy(p, s.reads[0])
	s.reads[0] = s.reads[0][n:]
	if len(s.reads[0]) == 0 {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func newSession(t *testing.T) (*Session, *sim.Device) {
	t.Helper()
	dev := sim.NewDevice(protocol.DeviceIDPIC18F47K40)
	s := New(dev, WithTimeout(50*time.Millisecond))
	if err := s.LVPBegin(); err != nil {
		t.Fatalf("LVPBegin() error = %v", err)
	}
	return s, dev
}

func makeRow(t *testing.T, addr uint32, words ...uint32) *rows.Row {
	t.Helper()
	r := rows.NewRow(addr, protocol.WordSize, protocol.RowSizeWords)
	for i, w := range words {
		if err := r.Store(i, w); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestNew_NilTransportPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil) did not panic")
		}
	}()
	New(nil)
}

func TestLVPBracket(t *testing.T) {
	dev := sim.NewDevice(protocol.DeviceIDPIC18F47K40)
	s := New(dev)

	if s.Active() {
		t.Fatal("new session is active")
	}
	if err := s.LVPBegin(); err != nil {
		t.Fatalf("LVPBegin() error = %v", err)
	}
	if !s.Active() || !dev.Active() {
		t.Errorf("after LVPBegin: session active = %v, device active = %v", s.Active(), dev.Active())
	}
	if err := s.LVPEnd(); err != nil {
		t.Fatalf("LVPEnd() error = %v", err)
	}
	if s.Active() || dev.Active() {
		t.Errorf("after LVPEnd: session active = %v, device active = %v", s.Active(), dev.Active())
	}

	frames := dev.Frames()
	if len(frames) != 2 || string(frames[0]) != "@ " || string(frames[1]) != "A " {
		t.Errorf("frames = %q, want [\"@ \" \"A \"]", frames)
	}
}

func TestOperationsRequireProgrammingMode(t *testing.T) {
	dev := sim.NewDevice(protocol.DeviceIDPIC18F47K40)
	s := New(dev)
	row := makeRow(t, 0, 1)

	checks := map[string]error{
		"LoadPC":      s.LoadPC(0),
		"EraseDevice": s.EraseDevice(),
		"ProgramRow":  s.ProgramRow(row),
		"ProgramWord": s.ProgramWord(0x300000, 1),
	}
	_, checks["ReadWord"] = s.ReadWord()
	_, checks["VerifyRow"] = s.VerifyRow(row)
	_, checks["ProgramWords"] = s.ProgramWords(row)

	for name, err := range checks {
		if !errors.Is(err, ErrNotProgramming) {
			t.Errorf("%s() error = %v, want ErrNotProgramming", name, err)
		}
	}
	if n := len(dev.Frames()); n != 0 {
		t.Errorf("%d frames sent while idle", n)
	}
}

func TestLoadPC(t *testing.T) {
	s, dev := newSession(t)

	if err := s.LoadPC(0x3FFFFE); err != nil {
		t.Fatalf("LoadPC() error = %v", err)
	}
	if s.PC() != 0x3FFFFE || dev.PC() != 0x3FFFFE {
		t.Errorf("PC = 0x%X (device 0x%X), want 0x3FFFFE", s.PC(), dev.PC())
	}

	frames := dev.Frames()
	want := []byte{'H', 0x00, 0x3F, 0xFF, 0xFE}
	if !bytes.Equal(frames[len(frames)-1], want) {
		t.Errorf("LoadPC frame = % X, want % X", frames[len(frames)-1], want)
	}
}

func TestEraseDevice_PositionsAtZero(t *testing.T) {
	s, dev := newSession(t)
	s.LoadPC(0x1234)

	if err := s.EraseDevice(); err != nil {
		t.Fatalf("EraseDevice() error = %v", err)
	}

	cmds := dev.Commands()
	tail := cmds[len(cmds)-2:]
	if !bytes.Equal(tail, []byte{protocol.CmdLoadPC, protocol.CmdErase}) {
		t.Errorf("erase sequence = %q, want \"HI\"", tail)
	}
	frames := dev.Frames()
	if !bytes.Equal(frames[len(frames)-2], []byte{'H', 0, 0, 0, 0}) {
		t.Errorf("erase did not load PC 0: % X", frames[len(frames)-2])
	}
}

func TestProgramRow_EndToEnd(t *testing.T) {
	s, dev := newSession(t)
	row := makeRow(t, 0, 0x0100)

	if err := s.ProgramRow(row); err != nil {
		t.Fatalf("ProgramRow() error = %v", err)
	}

	frames := dev.Frames()[1:]
	if len(frames) != 3 {
		t.Fatalf("ProgramRow sent %d frames, want 3", len(frames))
	}
	wantRow := []byte{'B', 0, 0, 0, 0, 0, 2, 0x00, 0x01, ' '}
	if !bytes.Equal(frames[0], wantRow) {
		t.Errorf("row frame = % X, want % X", frames[0], wantRow)
	}
	if !bytes.Equal(frames[1], []byte{'H', 0, 0, 0, 0}) {
		t.Errorf("load PC frame = % X", frames[1])
	}
	if !bytes.Equal(frames[2], []byte{'P'}) {
		t.Errorf("commit frame = % X", frames[2])
	}

	if w := dev.Word(0); w != 0x0100 {
		t.Errorf("device word at 0 = 0x%04X, want 0x0100", w)
	}
}

func TestWideWordsRejectedBeforeSending(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Session, row *rows.Row) error
	}{
		{"ProgramRow", func(s *Session, row *rows.Row) error {
			return s.ProgramRow(row)
		}},
		{"ProgramWords", func(s *Session, row *rows.Row) error {
			_, err := s.ProgramWords(row)
			return err
		}},
		{"VerifyRow", func(s *Session, row *rows.Row) error {
			_, err := s.VerifyRow(row)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev := newSession(t)
			row := makeRow(t, 0x0100, 0x0100, 0x12345)

			err := tt.run(s, row)
			var we *WordRangeError
			if !errors.As(err, &we) {
				t.Fatalf("%s() error = %v, want *WordRangeError", tt.name, err)
			}
			if we.Address != 0x0102 || we.Word != 0x12345 {
				t.Errorf("WordRangeError = %+v, want word 0x12345 at 0x0102", we)
			}
			if n := len(dev.Frames()); n != 1 {
				t.Errorf("sent %d frames after enter, want none", n-1)
			}
		})
	}
}

func TestCheckWords(t *testing.T) {
	if err := CheckWords(makeRow(t, 0, 0x0000, 0xFFFF)); err != nil {
		t.Errorf("CheckWords(16-bit words) error = %v", err)
	}
	if err := CheckWords(makeRow(t, 0, 0x10000)); err == nil {
		t.Error("CheckWords(0x10000) expected error")
	}
}

func TestVerifyRow_Match(t *testing.T) {
	s, _ := newSession(t)
	row := makeRow(t, 0x80, 0x1111, 0x2222, 0x3333)
	s.ProgramRow(row)

	mismatches, err := s.VerifyRow(row)
	if err != nil {
		t.Fatalf("VerifyRow() error = %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("VerifyRow() mismatches = %v, want none", mismatches)
	}
	if s.PC() != 0x80+6 {
		t.Errorf("PC after verify = 0x%X, want 0x86", s.PC())
	}
}

func TestVerifyRow_ReportsAndContinues(t *testing.T) {
	s, dev := newSession(t)
	row := makeRow(t, 0x100, 0xAAAA, 0xBBBB, 0xCCCC, 0xDDDD)
	s.ProgramRow(row)
	dev.StuckWord(0x102, 0x0000)
	dev.StuckWord(0x106, 0xFFFF)

	mismatches, err := s.VerifyRow(row)
	if err != nil {
		t.Fatalf("VerifyRow() error = %v", err)
	}

	want := []Mismatch{
		{Offset: 1, Address: 0x102, Expected: 0xBBBB, Actual: 0x0000},
		{Offset: 3, Address: 0x106, Expected: 0xDDDD, Actual: 0xFFFF},
	}
	if len(mismatches) != len(want) {
		t.Fatalf("VerifyRow() = %v, want %v", mismatches, want)
	}
	for i := range want {
		if mismatches[i] != want[i] {
			t.Errorf("mismatch[%d] = %+v, want %+v", i, mismatches[i], want[i])
		}
	}

	reads := 0
	for _, c := range dev.Commands() {
		if c == protocol.CmdReadWord {
			reads++
		}
	}
	if reads != 4 {
		t.Errorf("VerifyRow issued %d reads, want 4", reads)
	}
}

func TestProgramWord_Success(t *testing.T) {
	s, dev := newSession(t)

	if err := s.ProgramWord(0x300000, 0x1F60); err != nil {
		t.Fatalf("ProgramWord() error = %v", err)
	}

	cmds := dev.Commands()[1:]
	if string(cmds) != "HNPK" {
		t.Errorf("ProgramWord sequence = %q, want \"HNPK\"", cmds)
	}
	if w := dev.Word(0x300000); w != 0x1F60 {
		t.Errorf("device word = 0x%04X, want 0x1F60", w)
	}
}

func TestProgramWord_MismatchAlwaysFails(t *testing.T) {
	for _, stuck := range []uint16{0x0000, 0x1F61, 0xFFFF, 0x601F} {
		s, dev := newSession(t)
		dev.StuckWord(0x300000, stuck)

		err := s.ProgramWord(0x300000, 0x1F60)
		var ve *VerificationError
		if !errors.As(err, &ve) {
			t.Fatalf("ProgramWord() with read-back 0x%04X error = %v, want *VerificationError", stuck, err)
		}
		if ve.Expected != 0x1F60 || ve.Actual != stuck || ve.Address != 0x300000 {
			t.Errorf("VerificationError = %+v", ve)
		}
	}
}

func TestProgramWords_CollectsMismatches(t *testing.T) {
	s, dev := newSession(t)
	row := makeRow(t, 0x300000, 0x1111, 0x2222, 0x3333)
	dev.StuckWord(0x300002, 0xDEAD)

	mismatches, err := s.ProgramWords(row)
	if err != nil {
		t.Fatalf("ProgramWords() error = %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].Address != 0x300002 || mismatches[0].Offset != 1 {
		t.Errorf("ProgramWords() mismatches = %+v", mismatches)
	}
	if w := dev.Word(0x300004); w != 0x3333 {
		t.Errorf("word after mismatch not programmed: 0x%04X", w)
	}
}

func TestProgramWords_StopsOnTransportError(t *testing.T) {
	s, dev := newSession(t)
	row := makeRow(t, 0x200000, 0x1111, 0x2222)
	dev.FailOpcode(protocol.CmdWriteWord)

	_, err := s.ProgramWords(row)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("ProgramWords() error = %v, want *TransportError", err)
	}
	if te.Status != protocol.RespError {
		t.Errorf("Status = 0x%02X, want 0x%02X", te.Status, protocol.RespError)
	}
}

func TestReadWord_AdvancesPC(t *testing.T) {
	s, _ := newSession(t)
	s.LoadPC(protocol.RevisionIDAddress)

	rev, err := s.ReadWord()
	if err != nil {
		t.Fatalf("ReadWord() error = %v", err)
	}
	id, err := s.ReadWord()
	if err != nil {
		t.Fatalf("ReadWord() error = %v", err)
	}

	if id != protocol.DeviceIDPIC18F47K40 {
		t.Errorf("device ID = 0x%04X, want 0x%04X", id, protocol.DeviceIDPIC18F47K40)
	}
	if rev != 0xA042 {
		t.Errorf("revision = 0x%04X, want 0xA042", rev)
	}
}

func TestExchange_Timeout(t *testing.T) {
	s, dev := newSession(t)
	dev.Silence()

	err := s.LoadPC(0)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("LoadPC() error = %v, want *TransportError", err)
	}
	if !te.Timeout {
		t.Errorf("Timeout = false, want true")
	}
	if te.Op != "load PC" {
		t.Errorf("Op = %q, want %q", te.Op, "load PC")
	}
}

func TestExchange_BadTerminator(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{{protocol.RespOK}, {protocol.RespOutOfSync}}}
	s := New(tr, WithTimeout(10*time.Millisecond))
	if err := s.LVPBegin(); err != nil {
		t.Fatalf("LVPBegin() error = %v", err)
	}

	err := s.LoadPC(0x10)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("LoadPC() error = %v, want *TransportError", err)
	}
	if te.Status != protocol.RespOutOfSync || te.Timeout {
		t.Errorf("TransportError = %+v", te)
	}
	if s.PC() != 0 {
		t.Errorf("PC moved to 0x%X after failed load", s.PC())
	}
}

func TestExchange_SplitResponse(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{{protocol.RespOK}, {0x12}, {0x34, protocol.RespOK}}}
	s := New(tr, WithTimeout(10*time.Millisecond))
	s.LVPBegin()

	w, err := s.ReadWord()
	if err != nil {
		t.Fatalf("ReadWord() error = %v", err)
	}
	if w != 0x1234 {
		t.Errorf("ReadWord() = 0x%04X, want 0x1234", w)
	}
}

func TestExchange_PartialResponseTimesOut(t *testing.T) {
	tr := &scriptedTransport{reads: [][]byte{{protocol.RespOK}, {0x12, 0x34}}}
	s := New(tr, WithTimeout(10*time.Millisecond))
	s.LVPBegin()

	_, err := s.ReadWord()
	var te *TransportError
	if !errors.As(err, &te) || !te.Timeout {
		t.Errorf("ReadWord() error = %v, want timeout", err)
	}
}

func TestExchange_WriteErrors(t *testing.T) {
	boom := errors.New("port closed")

	tr := &scriptedTransport{writeErr: boom}
	err := New(tr).LVPBegin()
	if !errors.Is(err, boom) {
		t.Errorf("LVPBegin() error = %v, want wrapped %v", err, boom)
	}

	short := &scriptedTransport{shortBy: 1, reads: [][]byte{{protocol.RespOK}}}
	err = New(short).LVPBegin()
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("LVPBegin() after short write error = %v, want *TransportError", err)
	}
}

func TestLVPEnd_ClearsStateOnFailure(t *testing.T) {
	s, dev := newSession(t)
	dev.Silence()

	if err := s.LVPEnd(); err == nil {
		t.Fatal("LVPEnd() on silent device succeeded")
	}
	if s.Active() {
		t.Error("session still active after failed LVPEnd")
	}
}

func TestTransportError_Messages(t *testing.T) {
	tests := []struct {
		err  *TransportError
		want string
	}{
		{&TransportError{Op: "erase", Timeout: true}, "erase: timeout waiting for response"},
		{&TransportError{Op: "commit", Err: errors.New("boom")}, "commit: boom"},
		{&TransportError{Op: "read word", Status: protocol.RespError}, "read word: command failed"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
