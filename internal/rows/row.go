package rows

import (
	"encoding/binary"
	"fmt"
)

// Row is a word-aligned block of program memory matching the device's
// row write granularity. Words are stored lazily by offset; the backing
// slice only covers the highest stored offset and every slot created
// by growth is explicitly zeroed.
type Row struct {
	Address  uint32
	WordSize int

	size  int
	words []uint32
}

// NewRow creates an empty row of sizeWords words at address.
func NewRow(address uint32, wordSize, sizeWords int) *Row {
	return &Row{
		Address:  address,
		WordSize: wordSize,
		size:     sizeWords,
	}
}

// Store sets the word at offset, growing and zero-filling the row as needed.
func (r *Row) Store(offset int, word uint32) error {
	if offset < 0 || offset >= r.size {
		return fmt.Errorf("word offset %d outside row of %d words", offset, r.size)
	}
	for len(r.words) <= offset {
		r.words = append(r.words, 0)
	}
	r.words[offset] = word
	return nil
}

// Word returns the word at offset; unstored slots read as zero.
func (r *Row) Word(offset int) uint32 {
	if offset < 0 || offset >= len(r.words) {
		return 0
	}
	return r.words[offset]
}

// Words returns a copy of the stored words.
func (r *Row) Words() []uint32 {
	out := make([]uint32, len(r.words))
	copy(out, r.words)
	return out
}

// Len returns the number of words covered by the backing store.
func (r *Row) Len() int {
	return len(r.words)
}

// Cap returns the declared row size in words.
func (r *Row) Cap() int {
	return r.size
}

// WordAddress returns the byte address of the word at offset.
func (r *Row) WordAddress(offset int) uint32 {
	return r.Address + uint32(offset*r.WordSize)
}

// Bytes returns the stored words as little-endian bytes of WordSize each.
func (r *Row) Bytes() []byte {
	out := make([]byte, 0, len(r.words)*r.WordSize)
	var tmp [4]byte
	for _, w := range r.words {
		binary.LittleEndian.PutUint32(tmp[:], w)
		out = append(out, tmp[:r.WordSize]...)
	}
	return out
}

func (r *Row) String() string {
	return fmt.Sprintf("row 0x%06X (%d/%d words)", r.Address, len(r.words), r.size)
}
