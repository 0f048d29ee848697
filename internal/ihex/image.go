package ihex

import (
	"bytes"
	"io"
	"sort"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// DefaultLineLength is the number of data bytes per record written by WriteHex.
const DefaultLineLength = 16

// Image is a sparse byte-addressed memory image. Addresses that were
// never written are absent.
type Image map[uint32]byte

// Segment is a contiguous run of bytes in an image.
type Segment struct {
	Address uint32
	Data    []byte
}

// Addresses returns every populated address in ascending order.
func (img Image) Addresses() []uint32 {
	addrs := make([]uint32, 0, len(img))
	for a := range img {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Segments groups the image into contiguous runs, ordered by address.
func (img Image) Segments() []Segment {
	var segs []Segment
	for _, a := range img.Addresses() {
		n := len(segs)
		if n > 0 && segs[n-1].Address+uint32(len(segs[n-1].Data)) == a {
			segs[n-1].Data = append(segs[n-1].Data, img[a])
			continue
		}
		segs = append(segs, Segment{Address: a, Data: []byte{img[a]}})
	}
	return segs
}

// Lookup returns the byte at addr and whether it was written.
func (img Image) Lookup(addr uint32) (byte, bool) {
	b, ok := img[addr]
	return b, ok
}

// WriteHex encodes the image as Intel HEX with lineLength data bytes per
// record, emitting extended linear address records where needed and a
// final end of file record.
func (img Image) WriteHex(w io.Writer, lineLength byte) error {
	if lineLength == 0 {
		lineLength = DefaultLineLength
	}

	mem := gohex.NewMemory()
	for _, s := range img.Segments() {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return errors.Wrapf(err, "add segment at 0x%X", s.Address)
		}
	}

	var buf bytes.Buffer
	mem.DumpIntelHex(&buf, lineLength)

	_, err := io.Copy(w, &buf)
	return errors.Wrap(err, "write hex")
}
