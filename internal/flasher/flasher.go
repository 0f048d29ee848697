package flasher

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bigbag/pic18-flasher/internal/icsp"
	"github.com/bigbag/pic18-flasher/internal/protocol"
	"github.com/bigbag/pic18-flasher/internal/rows"
)

// ProgressCallback is called to report flash progress.
type ProgressCallback func(current, total int)

// Flasher programs assembled rows into a PIC18 through an ICSP session.
type Flasher struct {
	session  *icsp.Session
	log      zerolog.Logger
	progress ProgressCallback
}

// Option is a functional option for configuring the Flasher.
type Option func(*Flasher)

// WithLogger sets the logger for row-level events.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Flasher) {
		f.log = logger
	}
}

// New creates a new Flasher for the given session.
func New(session *icsp.Session, opts ...Option) *Flasher {
	f := &Flasher{
		session: session,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// Report summarizes a flash run.
type Report struct {
	Rows       int
	Words      int
	Mismatches []icsp.Mismatch
}

// DeviceInfo holds the identification words of the target.
type DeviceInfo struct {
	DeviceID uint16
	Revision uint16
	Name     string
}

// Flash erases the device and writes every row, routing each one by
// address. Unroutable rows are rejected before the device is touched.
// Verification mismatches do not stop the run; they are returned as
// *VerifyFailedError once the device has left programming mode.
func (f *Flasher) Flash(rs []*rows.Row, verify bool) (*Report, error) {
	steps, err := Plan(rs)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	err = f.bracket(func() error {
		if err := f.session.EraseDevice(); err != nil {
			return fmt.Errorf("erase failed: %w", err)
		}
		f.log.Debug().Msg("device erased")

		for i, st := range steps {
			if err := f.write(st, verify, report); err != nil {
				return fmt.Errorf("%s row at 0x%06X failed: %w", st.Segment, st.Row.Address, err)
			}
			f.reportProgress(i+1, len(steps))
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	if len(report.Mismatches) > 0 {
		return report, &VerifyFailedError{Mismatches: report.Mismatches}
	}
	return report, nil
}

// write sends one row using the operation its segment requires.
func (f *Flasher) write(st Step, verify bool, report *Report) error {
	var mismatches []icsp.Mismatch

	if st.Segment.RowWise() {
		if err := f.session.ProgramRow(st.Row); err != nil {
			return err
		}
		if verify {
			m, err := f.session.VerifyRow(st.Row)
			if err != nil {
				return err
			}
			mismatches = m
		}
	} else {
		m, err := f.session.ProgramWords(st.Row)
		if err != nil {
			return err
		}
		mismatches = m
	}

	report.Rows++
	report.Words += st.Row.Len()
	report.Mismatches = append(report.Mismatches, mismatches...)

	f.log.Debug().
		Str("segment", st.Segment.String()).
		Str("address", fmt.Sprintf("0x%06X", st.Row.Address)).
		Int("words", st.Row.Len()).
		Int("mismatches", len(mismatches)).
		Msg("row written")
	return nil
}

// Erase bulk-erases the device.
func (f *Flasher) Erase() error {
	return f.bracket(f.session.EraseDevice)
}

// Info reads the revision and device ID words.
func (f *Flasher) Info() (*DeviceInfo, error) {
	info := &DeviceInfo{}
	err := f.bracket(func() error {
		if err := f.session.LoadPC(protocol.RevisionIDAddress); err != nil {
			return err
		}
		rev, err := f.session.ReadWord()
		if err != nil {
			return fmt.Errorf("read revision: %w", err)
		}
		id, err := f.session.ReadWord()
		if err != nil {
			return fmt.Errorf("read device ID: %w", err)
		}
		info.Revision = rev
		info.DeviceID = id
		info.Name = protocol.DeviceName(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ReadConfig reads the configuration words.
func (f *Flasher) ReadConfig() ([]uint16, error) {
	words := make([]uint16, 0, protocol.ConfigWords)
	err := f.bracket(func() error {
		if err := f.session.LoadPC(protocol.ConfigAddress); err != nil {
			return err
		}
		for i := 0; i < protocol.ConfigWords; i++ {
			w, err := f.session.ReadWord()
			if err != nil {
				return fmt.Errorf("read config word %d: %w", i, err)
			}
			words = append(words, w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}

// bracket runs fn inside an LVP enter/exit pair. When fn fails the exit
// is still attempted; if that fails too the device state is unknown.
func (f *Flasher) bracket(fn func() error) error {
	if err := f.session.LVPBegin(); err != nil {
		return f.abort(fmt.Errorf("enter LVP failed: %w", err))
	}

	if err := fn(); err != nil {
		return f.abort(err)
	}

	if err := f.session.LVPEnd(); err != nil {
		return &DeviceStateUnknownError{ExitErr: err}
	}
	return nil
}

// abort makes a best-effort attempt to leave programming mode after err.
func (f *Flasher) abort(err error) error {
	f.log.Error().Err(err).Msg("aborting session")
	if exitErr := f.session.LVPEnd(); exitErr != nil {
		return &DeviceStateUnknownError{Err: err, ExitErr: exitErr}
	}
	return err
}
