// Package sim emulates an ICSP bridge with a PIC18 target attached. It
// speaks the same byte protocol as the bridge firmware and keeps the
// target's flash in memory.
package sim

import (
	"encoding/binary"
	"time"

	"github.com/bigbag/pic18-flasher/internal/protocol"
)

const erased = 0xFF

// Device is a simulated bridge and target. It satisfies icsp.Transport.
type Device struct {
	DeviceID uint16
	Revision uint16

	flash map[uint32]byte
	in    []byte
	out   []byte

	frames [][]byte

	active bool
	pc     uint32

	row       []uint16
	rowAddr   uint32
	rowLoaded bool

	word       uint16
	wordAddr   uint32
	wordLoaded bool

	silent  bool
	failing map[byte]bool
	stuck   map[uint32]uint16
}

// NewDevice creates an erased target reporting deviceID.
func NewDevice(deviceID uint16) *Device {
	return &Device{
		DeviceID: deviceID,
		Revision: 0xA042,
		flash:    make(map[uint32]byte),
		failing:  make(map[byte]bool),
		stuck:    make(map[uint32]uint16),
	}
}

// Silence stops all responses, so every later exchange times out.
func (d *Device) Silence() {
	d.silent = true
}

// FailOpcode makes the bridge answer cmd with the error terminator.
func (d *Device) FailOpcode(cmd byte) {
	d.failing[cmd] = true
}

// StuckWord forces reads of addr to return value, like a cell that
// refuses to program.
func (d *Device) StuckWord(addr uint32, value uint16) {
	d.stuck[addr] = value
}

// Active reports whether the target is in programming mode.
func (d *Device) Active() bool { return d.active }

// PC returns the target program counter.
func (d *Device) PC() uint32 { return d.pc }

// Frames returns every complete frame received, in order.
func (d *Device) Frames() [][]byte {
	out := make([][]byte, len(d.frames))
	for i, f := range d.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Commands returns the opcode of every frame received, in order.
func (d *Device) Commands() []byte {
	cmds := make([]byte, len(d.frames))
	for i, f := range d.frames {
		cmds[i] = f[0]
	}
	return cmds
}

// Word returns the little-endian word stored at addr as the target
// would read it back.
func (d *Device) Word(addr uint32) uint16 {
	switch addr {
	case protocol.DeviceIDAddress:
		return d.DeviceID
	case protocol.RevisionIDAddress:
		return d.Revision
	}
	if v, ok := d.stuck[addr]; ok {
		return v
	}
	return uint16(d.byteAt(addr)) | uint16(d.byteAt(addr+1))<<8
}

// Programmed returns the number of bytes that differ from the erased state.
func (d *Device) Programmed() int {
	n := 0
	for _, b := range d.flash {
		if b != erased {
			n++
		}
	}
	return n
}

func (d *Device) Write(p []byte) (int, error) {
	d.in = append(d.in, p...)
	for {
		n := frameLen(d.in)
		if n == 0 {
			break
		}
		frame := append([]byte(nil), d.in[:n]...)
		d.in = d.in[n:]
		d.frames = append(d.frames, frame)
		d.handle(frame)
	}
	return len(p), nil
}

func (d *Device) Read(p []byte) (int, error) {
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

// ReadWithTimeout returns pending response bytes, or none when the
// bridge has nothing to say. The simulator answers synchronously, so
// the timeout never needs to elapse.
func (d *Device) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	return d.Read(p)
}

// frameLen returns the length of the first complete frame in buf, or 0
// if more bytes are needed.
func frameLen(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}

	var n int
	switch buf[0] {
	case protocol.CmdEnterLVP, protocol.CmdExitLVP:
		n = 2
	case protocol.CmdLoadPC:
		n = 5
	case protocol.CmdWriteWord:
		n = 3
	case protocol.CmdProgramRow:
		if len(buf) < 7 {
			return 0
		}
		n = 7 + int(binary.BigEndian.Uint16(buf[5:7])) + 1
	default:
		n = 1
	}

	if len(buf) < n {
		return 0
	}
	return n
}

func (d *Device) handle(frame []byte) {
	if d.silent {
		return
	}

	cmd := frame[0]
	if d.failing[cmd] {
		d.reply(protocol.RespError)
		return
	}

	switch cmd {
	case protocol.CmdEnterLVP:
		if frame[1] != protocol.Trailer {
			d.reply(protocol.RespOutOfSync)
			return
		}
		d.active = true
		d.reply(protocol.RespOK)
		return
	case protocol.CmdExitLVP:
		d.active = false
		d.rowLoaded, d.wordLoaded = false, false
		d.reply(protocol.RespOK)
		return
	}

	if !d.active {
		d.reply(protocol.RespOutOfSync)
		return
	}

	switch cmd {
	case protocol.CmdLoadPC:
		d.pc = binary.BigEndian.Uint32(frame[1:5])
		d.reply(protocol.RespOK)

	case protocol.CmdErase:
		if d.pc != 0 {
			d.reply(protocol.RespError)
			return
		}
		d.flash = make(map[uint32]byte)
		d.reply(protocol.RespOK)

	case protocol.CmdProgramRow:
		if frame[len(frame)-1] != protocol.Trailer {
			d.reply(protocol.RespOutOfSync)
			return
		}
		addr, words, err := protocol.ParseRowPayload(frame[1 : len(frame)-1])
		if err != nil {
			d.reply(protocol.RespError)
			return
		}
		d.row, d.rowAddr, d.rowLoaded = words, addr, true
		d.reply(protocol.RespOK)

	case protocol.CmdWriteWord:
		d.word = binary.BigEndian.Uint16(frame[1:3])
		d.wordAddr, d.wordLoaded = d.pc, true
		d.reply(protocol.RespOK)

	case protocol.CmdCommit:
		if !d.commit() {
			d.reply(protocol.RespError)
			return
		}
		d.reply(protocol.RespOK)

	case protocol.CmdReadWord:
		w := d.Word(d.pc)
		d.pc += protocol.WireWordSize
		d.reply(byte(w>>8), byte(w), protocol.RespOK)

	default:
		d.reply(protocol.RespOutOfSync)
	}
}

// commit writes latched data to flash. A row commits only when the
// program counter points at the latched row address.
func (d *Device) commit() bool {
	switch {
	case d.rowLoaded:
		if d.pc != d.rowAddr {
			return false
		}
		for i, w := range d.row {
			d.program(d.rowAddr+uint32(i*2), w)
		}
		d.rowLoaded = false
	case d.wordLoaded:
		d.program(d.wordAddr, d.word)
		d.wordLoaded = false
	default:
		return false
	}
	return true
}

// program stores a word little-endian. Flash cells only clear bits
// until the next erase.
func (d *Device) program(addr uint32, w uint16) {
	d.flash[addr] = d.byteAt(addr) & byte(w)
	d.flash[addr+1] = d.byteAt(addr+1) & byte(w>>8)
}

func (d *Device) byteAt(addr uint32) byte {
	if b, ok := d.flash[addr]; ok {
		return b
	}
	return erased
}

func (d *Device) reply(b ...byte) {
	d.out = append(d.out, b...)
}
