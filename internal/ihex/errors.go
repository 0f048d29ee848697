package ihex

import "fmt"

// FormatError indicates a line that is not a well-formed Intel HEX record.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at line %d: %s", e.Line, e.Reason)
}

// ChecksumError indicates a record whose bytes do not sum to zero modulo 256.
type ChecksumError struct {
	Line     int
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum error at line %d: expected 0x%02X, got 0x%02X",
		e.Line, e.Expected, e.Actual)
}

// UnsupportedRecordTypeError indicates a record type other than data,
// end of file or extended linear address.
type UnsupportedRecordTypeError struct {
	Line int
	Type byte
}

func (e *UnsupportedRecordTypeError) Error() string {
	return fmt.Sprintf("unsupported record type 0x%02X at line %d", e.Type, e.Line)
}

// TruncatedFileError indicates input that ended without an end of file record.
type TruncatedFileError struct {
	Lines int
}

func (e *TruncatedFileError) Error() string {
	return fmt.Sprintf("no end of file record after %d lines", e.Lines)
}
