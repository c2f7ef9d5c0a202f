// trackdump
// Licensed under MIT

package lzx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/internal/bitio"
)

func TestPrepareHuffmanBuildsCanonicalBins(t *testing.T) {
	// Four symbols with widths 1,2,3,3: a minimal canonical Huffman shape.
	widths := []uint8{1, 2, 3, 3}
	counts := make([]uint8, 17)
	for _, w := range widths {
		counts[w]++
	}

	tree := &huffTree{}
	prepareHuffman(tree, counts, widths)

	assert.Equal(t, 4, tree.numValues)
	assert.Equal(t, 4, tree.numBins)
	require.Len(t, tree.values, 4)
	assert.EqualValues(t, []uint16{0, 1, 2, 3}, tree.values)

	assert.Equal(t, bin{offset: 0, last: 1}, tree.bins[1])
	assert.Equal(t, bin{offset: 2, last: 2}, tree.bins[2])
	assert.Equal(t, bin{offset: 6, last: 4}, tree.bins[3])
}

func TestGetHuffmanDecodesSingleSymbolCode(t *testing.T) {
	// A one-symbol width-1 tree: symbol 7 is the only code at width 1.
	tree := &huffTree{
		numBins: 2,
		values:  []uint16{7},
	}
	tree.bins[1] = bin{offset: 0, last: 1}

	// The first 16-bit peek of a fresh reader is simply the big-endian word
	// src[0],src[1]; picking src[1] even keeps the reversed peek's top bit
	// zero, which is what this tree's single code requires.
	r := bitio.NewLZXReader([]byte{0xAB, 0x00, 0x00, 0x00})
	value, err := getHuffman(r, tree)
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestUnpackDecodesUncompressedBlock(t *testing.T) {
	// Byte layout hand-derived against LZXReader's bit order: block_type=1
	// (uncompressed), bytes_out=4, then a 12-byte prev_offsets header
	// (loaded into the recent-offset slots) followed by the 4-byte raw payload.
	src := []byte{
		0x00, 0x01, 0x00, 0x20,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0xAA, 0xBB, 0xCC, 0xDD,
	}
	dest := make([]byte, 4)
	err := Unpack(dest, src, 15)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, dest)
}

func TestUnpackRejectsUnrecognizedBlockType(t *testing.T) {
	src := []byte{0x00, 0x00, 0x00, 0x00}
	dest := make([]byte, 4)
	err := Unpack(dest, src, 15)
	require.Error(t, err)
}

func TestUnpackRejectsTruncatedInput(t *testing.T) {
	src := []byte{0x00, 0x00}
	dest := make([]byte, 4)
	err := Unpack(dest, src, 15)
	require.Error(t, err)
}

func TestUnpackRejectsWindowBitsOutOfRange(t *testing.T) {
	err := Unpack(make([]byte, 4), make([]byte, 20), 14)
	require.Error(t, err)
	err = Unpack(make([]byte, 4), make([]byte, 20), 22)
	require.Error(t, err)
}

func TestTranslateOffsetAppliesRecentOffsetLRURule(t *testing.T) {
	// c == 0 reuses slot 0 unchanged.
	prev := [3]uint32{10, 20, 30}
	got := translateOffset(&prev, 0)
	assert.Equal(t, uint32(10), got)
	assert.Equal(t, [3]uint32{10, 20, 30}, prev)

	// c == 1 swaps slot 1 with slot 0.
	got = translateOffset(&prev, 1)
	assert.Equal(t, uint32(20), got)
	assert.Equal(t, [3]uint32{20, 10, 30}, prev)

	// c >= 3 pushes c-2 to the front, evicting slot 2.
	got = translateOffset(&prev, 3)
	assert.Equal(t, uint32(1), got)
	assert.Equal(t, [3]uint32{1, 20, 10}, prev)

	// c == 2 swaps slot 2 with slot 0.
	prev2 := [3]uint32{5, 6, 7}
	got = translateOffset(&prev2, 2)
	assert.Equal(t, uint32(7), got)
	assert.Equal(t, [3]uint32{7, 6, 5}, prev2)
}

func TestDecodeSymbolsReplaysLiteralAndBackReference(t *testing.T) {
	// A two-symbol codes tree: width-1 code 0 decodes the literal 'A'
	// (65), width-1 code 1 decodes a match symbol whose element (1) is
	// length header 1 (match length 1+minMatch=3) and position slot 0
	// (zero footer bits, offset code 0 -- reuse recent-offset slot 0).
	// Per LZXReader's bit order the first two stream bits come from
	// src[1]'s low two bits, low-to-high: 0x02 supplies bit0=0, bit1=1.
	codes := &huffTree{numBins: 2, values: []uint16{65, 257}}
	codes.bins[1] = bin{offset: 0, last: 2}

	src := []byte{0x00, 0x02, 0x00, 0x00}
	r := bitio.NewLZXReader(src)
	prevOffsets := [3]uint32{1, 1, 1}
	dest := make([]byte, 4)

	out, err := decodeSymbols(r, codes, nil, nil, blockVerbatim, dest, 0, 4, &prevOffsets)
	require.NoError(t, err)
	assert.Equal(t, 4, out)
	assert.Equal(t, []byte("AAAA"), dest)
	assert.Equal(t, [3]uint32{1, 1, 1}, prevOffsets)
}
