package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request represents an ICSP bridge command frame.
type Request struct {
	Command     byte
	Data        []byte
	Trailer     bool
	ResponseLen int
}

// Response represents a bridge reply with the terminator stripped.
type Response struct {
	Command byte
	Data    []byte
	Status  byte
}

// NewRequest creates a request that expects a single-byte acknowledgement.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{
		Command:     cmd,
		Data:        data,
		ResponseLen: AckLen,
	}
}

// Encode serializes the request to bytes.
func (r *Request) Encode() []byte {
	// Frame format:
	// 0: command
	// 1+: data
	// last: trailer (0x20) for mode changes and row payloads
	packet := make([]byte, 0, 2+len(r.Data))
	packet = append(packet, r.Command)
	packet = append(packet, r.Data...)
	if r.Trailer {
		packet = append(packet, Trailer)
	}
	return packet
}

// DecodeResponse checks a raw reply for the request and strips its terminator.
func DecodeResponse(req *Request, raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty response to %s", CommandName(req.Command))
	}

	resp := &Response{
		Command: req.Command,
		Status:  raw[len(raw)-1],
	}

	if len(raw) != req.ResponseLen {
		return resp, fmt.Errorf("response length mismatch: expected %d, have %d", req.ResponseLen, len(raw))
	}
	if resp.Status != RespOK {
		return resp, fmt.Errorf("bad terminator 0x%02X (%s)", resp.Status, StatusMessage(resp.Status))
	}

	resp.Data = raw[:len(raw)-1]
	return resp, nil
}

// IsSuccess returns true if the response ended with the OK terminator.
func (r *Response) IsSuccess() bool {
	return r.Status == RespOK
}

// Word decodes the big-endian word returned by a read.
func (r *Response) Word() (uint16, error) {
	if len(r.Data) < 2 {
		return 0, fmt.Errorf("response too short for a word: %d bytes", len(r.Data))
	}
	return binary.BigEndian.Uint16(r.Data[0:2]), nil
}

// EnterLVP creates the request that puts the target into low-voltage programming mode.
func EnterLVP() *Request {
	r := NewRequest(CmdEnterLVP, nil)
	r.Trailer = true
	return r
}

// ExitLVP creates the request that releases the target from programming mode.
func ExitLVP() *Request {
	r := NewRequest(CmdExitLVP, nil)
	r.Trailer = true
	return r
}

// LoadPC creates the request that moves the device program counter.
func LoadPC(addr uint32) *Request {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, addr)
	return NewRequest(CmdLoadPC, data)
}

// Erase creates the bulk erase request.
func Erase() *Request {
	return NewRequest(CmdErase, nil)
}

// ProgramRow creates the request that loads a whole row into the bridge.
// Words must already fit the 16-bit wire width.
func ProgramRow(addr uint32, words []uint32) *Request {
	// Payload: address (4, BE) + byte length (2, BE) + words (2 each, LE)
	data := make([]byte, 6+len(words)*WireWordSize)
	binary.BigEndian.PutUint32(data[0:4], addr)
	binary.BigEndian.PutUint16(data[4:6], uint16(len(words)*WireWordSize))
	for i, w := range words {
		off := 6 + i*WireWordSize
		binary.LittleEndian.PutUint16(data[off:off+2], uint16(w))
	}

	r := NewRequest(CmdProgramRow, data)
	r.Trailer = true
	return r
}

// WriteWord creates the request that latches one word at the program counter.
func WriteWord(word uint16) *Request {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, word)
	return NewRequest(CmdWriteWord, data)
}

// Commit creates the request that writes latched data to flash.
func Commit() *Request {
	return NewRequest(CmdCommit, nil)
}

// ReadWord creates the request that reads the word at the program counter.
func ReadWord() *Request {
	r := NewRequest(CmdReadWord, nil)
	r.ResponseLen = ReadWordLen
	return r
}

// ParseRowPayload splits a program row payload into its address and
// little-endian words. It is the inverse of ProgramRow's data layout.
func ParseRowPayload(data []byte) (uint32, []uint16, error) {
	if len(data) < 6 {
		return 0, nil, fmt.Errorf("row payload too short: %d bytes", len(data))
	}
	addr := binary.BigEndian.Uint32(data[0:4])
	n := int(binary.BigEndian.Uint16(data[4:6]))
	if n%WireWordSize != 0 {
		return 0, nil, fmt.Errorf("odd row byte length %d", n)
	}
	if len(data)-6 < n {
		return 0, nil, fmt.Errorf("data size mismatch: expected %d, have %d", n, len(data)-6)
	}

	words := make([]uint16, n/WireWordSize)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(data[6+i*2 : 8+i*2])
	}
	return addr, words, nil
}
