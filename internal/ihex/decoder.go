package ihex

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Decoder folds Intel HEX records into a memory image. The extended
// linear address offset lives in the decoder, so independent decoders
// never share state.
type Decoder struct {
	image  Image
	offset uint32
	line   int
	done   bool
}

// NewDecoder creates a decoder with an empty image and a zero offset.
func NewDecoder() *Decoder {
	return &Decoder{image: make(Image)}
}

// Decode parses one line and applies it to the image. Lines after the
// end of file record are ignored.
func (d *Decoder) Decode(line string) (*Record, error) {
	d.line++
	if d.done {
		return nil, nil
	}

	rec, err := parseRecord(line, d.line)
	if err != nil || rec == nil {
		return nil, err
	}

	switch rec.Type {
	case RecordData:
		base := uint32(rec.Address) + d.offset
		for i, b := range rec.Data {
			d.image[base+uint32(i)] = b
		}
	case RecordEOF:
		d.done = true
	case RecordExtendedLinearAddress:
		d.offset = uint32(rec.UpperAddress()) << 16
	}

	return rec, nil
}

// Done reports whether the end of file record has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Offset returns the current extended linear address offset.
func (d *Decoder) Offset() uint32 {
	return d.offset
}

// Image returns the image accumulated so far.
func (d *Decoder) Image() Image {
	return d.image
}

// DecodeReader decodes a whole Intel HEX stream. Input that ends before
// an end of file record fails with *TruncatedFileError.
func DecodeReader(r io.Reader) (Image, error) {
	d := NewDecoder()
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if _, err := d.Decode(scanner.Text()); err != nil {
			return nil, err
		}
		if d.Done() {
			return d.Image(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read line %d", d.line+1)
	}

	return nil, &TruncatedFileError{Lines: d.line}
}

// DecodeFile decodes the Intel HEX file at path.
func DecodeFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open hex file")
	}
	defer f.Close()

	img, err := DecodeReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}
