// trackdump
// Licensed under MIT

package med

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/byteio"
)

func u16be(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func u32be(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// mmdBuilder lays out sections in file order and records the absolute
// offset each one starts at, so the header's scattered offset fields can
// be patched in once every section has been appended.
type mmdBuilder struct {
	buf []byte
}

func (m *mmdBuilder) offset() uint32 { return uint32(len(m.buf)) }

func (m *mmdBuilder) append(b []byte) uint32 {
	off := m.offset()
	m.buf = append(m.buf, b...)
	return off
}

const headerSize = 53

// buildMMD assembles a minimal MMDx file: a zeroed header, an all-empty
// 63-slot sample table, a song record with numOrders order entries (all
// end-of-song), zero blocks and zero instruments. Callers that need
// blocks or instruments append them and patch the builder's header
// fields directly (see buildMMDWithBlock and the set* helpers below).
func buildMMD(magic string, numOrders int) *mmdBuilder {
	m := &mmdBuilder{buf: make([]byte, headerSize)}
	copy(m.buf[0:4], magic)

	songOffset := m.append(make([]byte, 63*8)) // sample sub-records

	m.buf = append(m.buf, u16be(0)...) // num_blocks
	m.buf = append(m.buf, u16be(uint16(numOrders))...)
	orders := make([]byte, 256)
	for i := 0; i < numOrders; i++ {
		orders[i] = 255 // end of song
	}
	m.buf = append(m.buf, orders...)
	m.buf = append(m.buf, u16be(125)...) // default_tempo
	m.buf = append(m.buf, 0)             // transpose
	m.buf = append(m.buf, 0)             // flags
	m.buf = append(m.buf, 0)             // flags2
	m.buf = append(m.buf, 6)             // tempo2
	m.buf = append(m.buf, make([]byte, 16)...)
	m.buf = append(m.buf, 64) // song volume
	m.buf = append(m.buf, 0)  // num_instruments

	copy(m.buf[8:12], u32be(songOffset))
	return m
}

func (m *mmdBuilder) setNumBlocks(n uint16, songOffset uint32) {
	copy(m.buf[songOffset+63*8:songOffset+63*8+2], u16be(n))
}

func (m *mmdBuilder) setNumInstruments(n uint8, songOffset uint32) {
	off := songOffset + 63*8 + 2 + 2 + 256 + 2 + 1 + 1 + 1 + 1 + 16 + 1
	m.buf[off] = n
}

func (m *mmdBuilder) setBlockArrayOffset(v uint32) { copy(m.buf[16:20], u32be(v)) }

func buildMMDMinimal(magic string) []byte {
	m := buildMMD(magic, 1)
	return m.buf
}

func TestIdentifiesMMD0Magic(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildMMDMinimal("MMD0")))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, common.MedSource, module.Source)
	assert.Equal(t, "MMD0", module.Tag)
	assert.EqualValues(t, 64, module.GlobalVolume)
}

func TestIdentifiesMMD3Magic(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildMMDMinimal("MMD3")))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, "MMD3", module.Tag)
}

func TestRejectsMissingMagic(t *testing.T) {
	data := buildMMDMinimal("MMD0")
	copy(data[0:4], []byte("XXXX"))
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.True(t, perr.Recoverable())
}

// buildMMDWithBlock constructs a file carrying exactly one pattern block
// of the given cell layout, so the MMD0 bit-braided vs MMD1+ plain cell
// decode can be exercised directly. The block offset table is written
// before the block bytes it points to, since mmdBuilder appends
// sequentially and offsets are only known once a section lands.
func buildMMDWithBlock(magic string, mmdVersion int, cell []byte) []byte {
	m := buildMMD(magic, 0)
	songOffset := uint32(headerSize)

	var blockHeader []byte
	if mmdVersion >= 1 {
		blockHeader = append(blockHeader, u16be(1)...)
		blockHeader = append(blockHeader, u16be(0)...)
		blockHeader = append(blockHeader, make([]byte, 4)...)
	} else {
		blockHeader = append(blockHeader, 1, 0)
	}
	blockData := append(blockHeader, cell...)

	arrayOffset := m.offset()
	m.buf = append(m.buf, make([]byte, 4)...) // placeholder, patched below
	blockOffset := m.append(blockData)
	copy(m.buf[arrayOffset:arrayOffset+4], u32be(blockOffset))

	m.setBlockArrayOffset(arrayOffset)
	m.setNumBlocks(1, songOffset)
	m.setNumInstruments(0, songOffset)
	return m.buf
}

func TestMMD0BitBraidedCellDecode(t *testing.T) {
	// note=5, instrument=15, effect=3, param=7, bit-braided per MMD0note.
	cell := []byte{5, 0xF3, 0x07}
	data := buildMMDWithBlock("MMD0", 0, cell)

	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.Nil(t, perr)
	require.Len(t, module.Patterns, 1)

	ev := module.Patterns[0].Events[0]
	assert.EqualValues(t, 5, ev.Note)
	assert.EqualValues(t, 15, ev.Instrument)
	assert.EqualValues(t, 3, ev.Effect)
	assert.EqualValues(t, 7, ev.EffectParam)
}

func TestMMD1PlainCellDecode(t *testing.T) {
	cell := []byte{40, 20, 0x09, 0x15} // note, instrument, effect, param
	data := buildMMDWithBlock("MMD1", 1, cell)

	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.Nil(t, perr)
	require.Len(t, module.Patterns, 1)

	ev := module.Patterns[0].Events[0]
	assert.EqualValues(t, 40, ev.Note)
	assert.EqualValues(t, 20, ev.Instrument)
	assert.EqualValues(t, 0x09, ev.Effect)
	assert.EqualValues(t, 0x15, ev.EffectParam)
	assert.True(t, module.Usage.IsSet(FeatureCmdSpeedLo))
}

func TestOctave8Detected(t *testing.T) {
	note := 1 + 12*7 // first note of octave 8
	cell := []byte{byte(note), 0, 0, 0}
	data := buildMMDWithBlock("MMD1", 1, cell)

	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.Nil(t, perr)
	assert.True(t, module.Usage.IsSet(FeatureOctave8))
}

func TestTooManyBlocksRejected(t *testing.T) {
	m := buildMMD("MMD1", 0)
	songOffset := uint32(headerSize)
	m.setNumBlocks(300, songOffset)

	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(m.buf))
	require.NotNil(t, perr)
	assert.Equal(t, "TooManyBlocks", perr.Kind.String())
}

func TestMMD2MarksUnimplementedTail(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildMMDMinimal("MMD2")))
	require.Nil(t, perr)
	assert.NotEmpty(t, module.Other["NotImplemented"])
}

func TestTooManyInstrumentsRejected(t *testing.T) {
	m := buildMMD("MMD1", 0)
	songOffset := uint32(headerSize)
	m.setNumInstruments(200, songOffset)

	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(m.buf))
	require.NotNil(t, perr)
	assert.Equal(t, "TooManyInstruments", perr.Kind.String())
}
