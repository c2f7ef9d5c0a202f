// trackdump
// Licensed under MIT

package coco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/report"
)

func u32leBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// buildPlainCoco assembles a minimal 4-channel, 1-instrument, 1-order,
// 1-pattern Coconizer module with no ARM relocatable wrapper.
func buildPlainCoco() []byte {
	buf := make([]byte, 32)
	buf[0] = 0x04 // info: 4 channels, no "trackfile" module flag
	copy(buf[1:21], []byte("Test Tune\r"))
	buf[21] = 1 // num_instruments
	buf[22] = 1 // num_orders
	buf[23] = 1 // num_patterns
	copy(buf[24:28], u32leBytes(64))
	copy(buf[28:32], u32leBytes(65))

	ins := make([]byte, 32)
	copy(ins[4:8], u32leBytes(100)) // length
	copy(ins[20:31], []byte("Snare\r"))
	buf = append(buf, ins...)

	buf = append(buf, 0) // orders: single entry -> pattern 0

	pattern := make([]byte, 4*numRows*4)
	copy(pattern[0:4], []byte{0x05, 0x0A, 1, 40}) // param,effect,instrument,note
	buf = append(buf, pattern...)

	return buf
}

func TestIdentifiesPlainCoconizer(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildPlainCoco()))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, "COCO", module.Tag)
	assert.Equal(t, "Test Tune", module.Title)
	assert.EqualValues(t, 4, module.Channels)
	assert.Contains(t, module.TrackerID, "Coconizer (")
	require.Len(t, module.Instruments, 1)
	require.Len(t, module.Patterns, 1)
	require.Len(t, module.Order, 1)
	assert.EqualValues(t, 0, module.Order[0])
}

func TestCoconizerPatternCellDecode(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildPlainCoco()))
	require.Nil(t, perr)
	require.Len(t, module.Patterns, 1)

	ev := module.Patterns[0].At(0, 0)
	assert.EqualValues(t, 40, ev.Note)
	assert.EqualValues(t, 1, ev.Instrument)
	assert.EqualValues(t, 0x0A, ev.Effect)
	assert.EqualValues(t, 0x05, ev.EffectParam)

	other := module.Patterns[0].At(0, 1)
	assert.EqualValues(t, 0, other.Note)
}

func TestRejectsBadChannelCount(t *testing.T) {
	data := buildPlainCoco()
	data[0] = 0x05 // neither 4 nor 8 channels
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.True(t, perr.Recoverable())
}

func TestRejectsMissingNameTerminator(t *testing.T) {
	data := buildPlainCoco()
	for i := 1; i < 21; i++ {
		data[i] = 'x' // no \r anywhere in the name field
	}
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.True(t, perr.Recoverable())
}

func TestRejectsTruncatedFile(t *testing.T) {
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(make([]byte, 10)))
	require.NotNil(t, perr)
}

// buildCoconizerSong assembles a relocatable ARM module header whose ARM
// scan locates an embedded Coconizer module at file offset 311, carrying
// one instrument, one order and one pattern.
func buildCoconizerSong() []byte {
	buf := make([]byte, 1400)

	copy(buf[4:8], u32leBytes(0x2c))   // init_address
	copy(buf[8:12], u32leBytes(0x30))  // finish_address = 48
	copy(buf[16:20], u32leBytes(0x1c)) // title_address
	copy(buf[28:44], []byte("CoconizerSong\x00\x00\x00"))

	// ADD r10,pc,#0xff at finish_address; immediate 0xff, rotate 0.
	copy(buf[48:52], u32leBytes(0xe28fa0ff))
	// Next word deliberately doesn't match ADD r10,r10,#imm.

	const moduleOffset = 311
	copy(buf[moduleOffset:moduleOffset+32], make([]byte, 32))
	buf[moduleOffset+0] = 0x04
	copy(buf[moduleOffset+1:moduleOffset+21], []byte("Coco\r"))
	buf[moduleOffset+21] = 1
	buf[moduleOffset+22] = 1
	buf[moduleOffset+23] = 1
	copy(buf[moduleOffset+24:moduleOffset+28], u32leBytes(64))
	copy(buf[moduleOffset+28:moduleOffset+32], u32leBytes(65))

	insOffset := moduleOffset + 32
	copy(buf[insOffset+4:insOffset+8], u32leBytes(50))
	copy(buf[insOffset+20:insOffset+31], []byte("Kick\r"))

	ordersOffset := moduleOffset + 64
	buf[ordersOffset] = 0

	patternsOffset := moduleOffset + 65
	copy(buf[patternsOffset:patternsOffset+4], []byte{0x0F, 0x0D, 1, 50})

	return buf
}

func TestIdentifiesCoconizerSong(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildCoconizerSong()))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, "Coco", module.Title)
	assert.Contains(t, module.TrackerID, "CoconizerSong")
	require.Len(t, module.Instruments, 1)
	require.Len(t, module.Patterns, 1)

	ev := module.Patterns[0].At(0, 0)
	assert.EqualValues(t, 50, ev.Note)
	assert.EqualValues(t, 1, ev.Instrument)
	assert.EqualValues(t, 0x0D, ev.Effect)
	assert.EqualValues(t, 0x0F, ev.EffectParam)
}

func TestReportGlobalStatsSplitsSongFromModule(t *testing.T) {
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(buildPlainCoco()))
	require.Nil(t, perr)
	_, perr = h.AcceptAndParse(byteio.NewFromBytes(buildCoconizerSong()))
	require.Nil(t, perr)

	var lines []string
	h.ReportGlobalStats(recordingReporter{lines: &lines})
	require.Len(t, lines, 3)
	assert.Equal(t, "Total Coconizer=2", lines[0])
	assert.Equal(t, "Total Coconizer module=1", lines[1])
	assert.Equal(t, "Total CoconizerSong=1", lines[2])
}

// recordingReporter implements report.Reporter, recording only the Line
// calls this package's handler actually makes; every other method is a
// no-op satisfying the interface.
type recordingReporter struct {
	lines *[]string
}

func (r recordingReporter) Line(label, text string) {
	*r.lines = append(*r.lines, label+"="+text)
}
func (r recordingReporter) Warning(string) {}
func (r recordingReporter) Error(string)   {}
func (r recordingReporter) Uses([]string)  {}
func (r recordingReporter) Table(columns []report.Column, rows [][]string) {}
func (r recordingReporter) Orders(label string, values []int16) {}
func (r recordingReporter) Pattern(index, channels, rows, packedBytes int) report.PatternWriter {
	return nil
}
