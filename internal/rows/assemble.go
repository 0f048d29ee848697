package rows

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/bigbag/pic18-flasher/internal/ihex"
)

// InvalidWordSizeError indicates a word size other than 1, 2 or 4 bytes.
type InvalidWordSizeError struct {
	WordSize int
}

func (e *InvalidWordSizeError) Error() string {
	return fmt.Sprintf("invalid word size %d: must be 1, 2 or 4", e.WordSize)
}

// InvalidRowSizeError indicates a row size below one word, or one whose
// byte span does not fit a 32-bit address.
type InvalidRowSizeError struct {
	RowSizeWords int
}

func (e *InvalidRowSizeError) Error() string {
	return fmt.Sprintf("invalid row size %d words", e.RowSizeWords)
}

// Assemble groups img into rows of rowSizeWords words of wordSize bytes.
// Words are rebuilt little-endian from word-aligned addresses, with
// missing bytes reading as zero. Unaligned addresses are skipped since
// the aligned word covering them already includes their byte; one with
// no covering word is logged and dropped. Rows are returned in
// ascending address order.
func Assemble(img ihex.Image, rowSizeWords, wordSize int) ([]*Row, error) {
	if !validWordSize(wordSize) {
		return nil, &InvalidWordSizeError{WordSize: wordSize}
	}
	if rowSizeWords < 1 || uint64(rowSizeWords)*uint64(wordSize) > math.MaxUint32 {
		return nil, &InvalidRowSizeError{RowSizeWords: rowSizeWords}
	}

	ws := uint32(wordSize)
	rowBytes := uint32(rowSizeWords) * ws

	var result []*Row
	var current *Row

	for _, addr := range img.Addresses() {
		if addr%ws != 0 {
			if _, ok := img[addr-addr%ws]; !ok {
				log.Warn().
					Str("address", fmt.Sprintf("0x%06X", addr)).
					Int("word_size", wordSize).
					Msg("skipping byte with no word-aligned address")
			}
			continue
		}

		base := addr / rowBytes * rowBytes
		if current == nil || current.Address != base {
			current = NewRow(base, wordSize, rowSizeWords)
			result = append(result, current)
		}

		offset := int((addr - base) / ws)
		if err := current.Store(offset, readWord(img, addr, ws)); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Orphans returns the unaligned addresses of img whose covering aligned
// address is absent. Assemble drops these bytes.
func Orphans(img ihex.Image, wordSize int) []uint32 {
	if !validWordSize(wordSize) {
		return nil
	}
	ws := uint32(wordSize)
	var orphans []uint32
	for _, addr := range img.Addresses() {
		if addr%ws == 0 {
			continue
		}
		if _, ok := img[addr-addr%ws]; !ok {
			orphans = append(orphans, addr)
		}
	}
	return orphans
}

func readWord(img ihex.Image, addr, size uint32) uint32 {
	var word uint32
	for i := uint32(0); i < size; i++ {
		word |= uint32(img[addr+i]) << (8 * i)
	}
	return word
}

func validWordSize(n int) bool {
	return n == 1 || n == 2 || n == 4
}
