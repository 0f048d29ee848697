package protocol

// ICSP bridge commands
const (
	CmdEnterLVP   = '@'
	CmdExitLVP    = 'A'
	CmdProgramRow = 'B'
	CmdLoadPC     = 'H'
	CmdErase      = 'I'
	CmdReadWord   = 'K'
	CmdWriteWord  = 'N'
	CmdCommit     = 'P'
)

// Trailer closes mode-change commands and row payloads.
const Trailer = 0x20

// Response terminators
const (
	RespOK        = 0x61 // 'a'
	RespError     = 0x62 // 'b'
	RespOutOfSync = 0x63 // 'c'
)

// Response lengths including the terminator
const (
	AckLen      = 1
	ReadWordLen = 3
)

// WireWordSize is the width of a word on the wire, whatever the row's word size.
const WireWordSize = 2

// CommandName returns a human-readable name for a command byte
func CommandName(cmd byte) string {
	switch cmd {
	case CmdEnterLVP:
		return "enter LVP"
	case CmdExitLVP:
		return "exit LVP"
	case CmdProgramRow:
		return "program row"
	case CmdLoadPC:
		return "load PC"
	case CmdErase:
		return "erase"
	case CmdReadWord:
		return "read word"
	case CmdWriteWord:
		return "write word"
	case CmdCommit:
		return "commit"
	default:
		return "unknown command"
	}
}

// StatusMessage returns human-readable meaning of a response terminator
func StatusMessage(code byte) string {
	switch code {
	case RespOK:
		return "ok"
	case RespError:
		return "command failed"
	case RespOutOfSync:
		return "bridge out of sync"
	default:
		return "unexpected terminator"
	}
}
