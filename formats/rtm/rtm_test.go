// trackdump
// Licensed under MIT

package rtm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/byteio"
)

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// objHeader assembles a 42-byte RTM_object_header: id, name, version and
// header_size, with the unused rc/eof bytes left zeroed.
func objHeader(id, name string, version, headerSize uint16) []byte {
	buf := make([]byte, 42)
	copy(buf[0:4], []byte(id))
	copy(buf[5:5+len(name)], []byte(name))
	copy(buf[38:40], u16le(version))
	copy(buf[40:42], u16le(headerSize))
	return buf
}

// buildRTM assembles a minimal RTMM file: a 2-channel, 1-order, 1-pattern,
// 1-instrument module. The single pattern carries a TRACK-bit channel jump
// on row 0 and a NEXT_ROW opcode leading into a plain row-1 cell; the
// instrument carries one sample with a short loop.
func buildRTM() []byte {
	buf := objHeader("RTMM", "Test Song", 0, 98)

	content := make([]byte, 98)
	copy(content[0:20], []byte("Test Tracker"))
	copy(content[20:52], []byte("Test Author"))
	copy(content[52:54], u16le(0)) // flags: amiga tables, no track names
	content[54] = 2                // num_channels
	content[55] = 1                // num_instruments
	copy(content[56:58], u16le(1)) // num_orders
	copy(content[58:60], u16le(1)) // num_patterns
	content[60] = 6                // initial_speed
	content[61] = 125              // initial_tempo
	// initial_panning[32]@62 left zeroed (centered after rescale)
	copy(content[94:98], u32le(2)) // extra_data_length
	buf = append(buf, content...)

	buf = append(buf, u16le(0)...) // orders: single entry -> pattern 0

	patternBody := append(u16le(1), 2) // flags=1 (unused), num_channels=2
	eventStream := []byte{
		0x1F, 1, 40, 3, 0x0A, 0x05, // TRACK->chn1, note, instrument, cmd1/param1
		0x00,                   // NEXT_ROW
		0x62, 50, 0x0D, 0x0F, // note + cmd2/param2 on chn0
	}
	patternBody = append(patternBody, u16le(2)...) // num_rows=2
	patternBody = append(patternBody, u32le(uint32(len(eventStream)))...)
	buf = append(buf, objHeader("RTND", "", 0, 9)...)
	buf = append(buf, patternBody...)
	buf = append(buf, eventStream...)

	buf = append(buf, objHeader("RTIN", "", 0, 341)...)
	insBody := make([]byte, 341)
	insBody[0] = 1 // num_samples
	buf = append(buf, insBody...)

	buf = append(buf, objHeader("RTSM", "Snare", 0, 26)...)
	sampBody := make([]byte, 26)
	sampBody[2] = 64 // global_volume
	sampBody[3] = 48 // default_volume
	copy(sampBody[4:8], u32le(4))
	sampBody[8] = 1 // loop_mode: on
	copy(sampBody[12:16], u32le(0))
	copy(sampBody[16:20], u32le(4))
	copy(sampBody[20:24], u32le(8363))
	sampBody[25] = 0 // default_panning
	buf = append(buf, sampBody...)
	buf = append(buf, []byte{0, 0, 0, 0}...) // 4 bytes of PCM

	return buf
}

func TestIdentifiesRTMMagic(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildRTM()))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, "RTM", module.Tag)
	assert.Equal(t, "Test Song", module.Title)
	assert.Equal(t, "Test Author", module.Message)
	assert.Contains(t, module.TrackerID, "RTMM")
	assert.EqualValues(t, 2, module.Channels)
	assert.EqualValues(t, 6, module.InitialSpeed)
	assert.EqualValues(t, 125, module.InitialTempo)
	require.Len(t, module.Order, 1)
	assert.EqualValues(t, 0, module.Order[0])
}

func TestRejectsMissingRTMMagic(t *testing.T) {
	data := buildRTM()
	copy(data[0:4], []byte("XXXX"))
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.True(t, perr.Recoverable())
}

func TestRejectsTooManyChannels(t *testing.T) {
	data := buildRTM()
	data[42+54] = 40 // num_channels, past the 42-byte object header
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.Equal(t, "Invalid", perr.Kind.String())
}

func TestRTMChannelPanRescaled(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildRTM()))
	require.Nil(t, perr)
	require.Len(t, module.ChannelSettings, 2)
	assert.EqualValues(t, 32, module.ChannelSettings[0].InitialPan)
}

func TestRTMPatternTrackJumpAndNextRow(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildRTM()))
	require.Nil(t, perr)
	require.Len(t, module.Patterns, 1)

	p := module.Patterns[0]
	require.Equal(t, 2, p.Rows)
	require.Equal(t, 2, p.Channels)

	jumped := p.At(0, 1)
	assert.EqualValues(t, 40, jumped.Note)
	assert.EqualValues(t, 3, jumped.Instrument)
	assert.EqualValues(t, 0x0A, jumped.Effect)
	assert.EqualValues(t, 0x05, jumped.EffectParam)

	nextRow := p.At(1, 0)
	assert.EqualValues(t, 50, nextRow.Note)
	require.Len(t, nextRow.SecondaryEffects, 1)
	assert.EqualValues(t, 0x0D, nextRow.SecondaryEffects[0].Effect)
	assert.EqualValues(t, 0x0F, nextRow.SecondaryEffects[0].Param)

	// Untouched cells stay empty.
	empty := p.At(0, 0)
	assert.EqualValues(t, 0, empty.Note)
}

func TestRTMInstrumentAndSampleDecode(t *testing.T) {
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(buildRTM()))
	require.Nil(t, perr)
	require.Len(t, module.Instruments, 1)
	require.Len(t, module.Samples, 1)

	ins := module.Instruments[0]
	assert.Equal(t, common.InstrumentSample, ins.Kind)
	assert.Equal(t, 0, ins.SampleIndex)
	require.Len(t, ins.Envelopes, 2)

	samp := module.Samples[0]
	assert.Equal(t, "Snare", samp.Name)
	assert.EqualValues(t, 64, samp.GlobalVolume)
	assert.EqualValues(t, 48, samp.DefaultVolume)
	assert.EqualValues(t, 4, samp.Length)
	assert.EqualValues(t, 4, samp.LoopEnd)
	assert.EqualValues(t, 8363, samp.C5)
	assert.Equal(t, common.LoopForward, samp.Loop)
}

func TestRTMShortFileIsReadError(t *testing.T) {
	data := buildRTM()
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data[:60]))
	require.NotNil(t, perr)
}
