package ihex

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// RecordType identifies the kind of an Intel HEX record.
type RecordType byte

// Supported record types
const (
	RecordData                  RecordType = 0x00
	RecordEOF                   RecordType = 0x01
	RecordExtendedLinearAddress RecordType = 0x04
)

// Marker starts every record line.
const Marker = ':'

// minRecordBytes is length + address (2) + type + checksum.
const minRecordBytes = 5

func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "data"
	case RecordEOF:
		return "eof"
	case RecordExtendedLinearAddress:
		return "extended linear address"
	default:
		return fmt.Sprintf("type 0x%02X", byte(t))
	}
}

// Record is one decoded line of an Intel HEX file.
type Record struct {
	Type    RecordType
	Address uint16
	Data    []byte
}

// UpperAddress returns the 16-bit value carried by an extended linear
// address record.
func (r *Record) UpperAddress() uint16 {
	if r.Type != RecordExtendedLinearAddress || len(r.Data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(r.Data[0:2])
}

// ParseRecord decodes a single line. An empty line yields a nil record.
// Errors carry line number 0; Decoder fills in the real position.
func ParseRecord(line string) (*Record, error) {
	return parseRecord(line, 0)
}

func parseRecord(line string, lineNum int) (*Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if line[0] != Marker {
		return nil, &FormatError{Line: lineNum, Reason: "line does not start with ':'"}
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, &FormatError{Line: lineNum, Reason: err.Error()}
	}
	if len(raw) < minRecordBytes {
		return nil, &FormatError{Line: lineNum, Reason: fmt.Sprintf("record too short: %d bytes", len(raw))}
	}

	length := int(raw[0])
	if len(raw) != length+minRecordBytes {
		return nil, &FormatError{
			Line:   lineNum,
			Reason: fmt.Sprintf("length field %d does not match %d data bytes", length, len(raw)-minRecordBytes),
		}
	}

	if sum := checksum(raw); sum != 0 {
		last := raw[len(raw)-1]
		return nil, &ChecksumError{
			Line:     lineNum,
			Expected: last - sum,
			Actual:   last,
		}
	}

	rec := &Record{
		Type:    RecordType(raw[3]),
		Address: binary.BigEndian.Uint16(raw[1:3]),
		Data:    raw[4 : 4+length],
	}

	switch rec.Type {
	case RecordData, RecordEOF:
	case RecordExtendedLinearAddress:
		if length != 2 {
			return nil, &FormatError{
				Line:   lineNum,
				Reason: fmt.Sprintf("extended linear address record with %d data bytes", length),
			}
		}
	default:
		return nil, &UnsupportedRecordTypeError{Line: lineNum, Type: raw[3]}
	}

	return rec, nil
}

// checksum returns the low byte of the sum of all record bytes,
// which is zero for a valid record.
func checksum(raw []byte) byte {
	var sum byte
	for _, b := range raw {
		sum += b
	}
	return sum
}
