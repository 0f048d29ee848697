package flasher

import (
	"fmt"

	"github.com/bigbag/pic18-flasher/internal/icsp"
	"github.com/bigbag/pic18-flasher/internal/protocol"
	"github.com/bigbag/pic18-flasher/internal/rows"
)

// Segment identifies the memory region a row belongs to.
type Segment int

// Memory segments
const (
	SegmentProgram Segment = iota
	SegmentUserID
	SegmentConfig
)

func (s Segment) String() string {
	switch s {
	case SegmentProgram:
		return "program"
	case SegmentUserID:
		return "user ID"
	case SegmentConfig:
		return "config"
	default:
		return "unknown"
	}
}

// RowWise reports whether the segment is written a row at a time.
func (s Segment) RowWise() bool {
	return s == SegmentProgram
}

// UnrecognizedSegmentError indicates a row outside every known memory region.
type UnrecognizedSegmentError struct {
	Address uint32
}

func (e *UnrecognizedSegmentError) Error() string {
	return fmt.Sprintf("unrecognized segment at 0x%06X", e.Address)
}

// Route returns the segment for a row address.
func Route(row *rows.Row) (Segment, error) {
	switch {
	case row.Address <= protocol.MainMemoryEnd:
		return SegmentProgram, nil
	case row.Address == protocol.UserIDAddress:
		return SegmentUserID, nil
	case row.Address == protocol.ConfigAddress:
		return SegmentConfig, nil
	default:
		return 0, &UnrecognizedSegmentError{Address: row.Address}
	}
}

// Step is a row paired with the segment that decides how it is written.
type Step struct {
	Row     *rows.Row
	Segment Segment
}

// Plan routes and range-checks every row before anything is sent to
// the device.
func Plan(rs []*rows.Row) ([]Step, error) {
	steps := make([]Step, 0, len(rs))
	for _, r := range rs {
		seg, err := Route(r)
		if err != nil {
			return nil, err
		}
		if err := icsp.CheckWords(r); err != nil {
			return nil, err
		}
		steps = append(steps, Step{Row: r, Segment: seg})
	}
	return steps, nil
}
