// trackdump
// Licensed under MIT

package s3m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/internal/byteio"
)

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

// buildS3M assembles a minimal header with zero instruments/patterns/orders.
func buildS3M(cwtv uint16) []byte {
	buf := make([]byte, 96)
	copy(buf[0:28], "test tune")
	buf[28] = 0x1a // eof
	buf[29] = 16   // type
	copy(buf[32:34], u16le(0))  // num_orders
	copy(buf[34:36], u16le(0))  // num_instruments
	copy(buf[36:38], u16le(0))  // num_patterns
	copy(buf[38:40], u16le(0))  // flags
	copy(buf[40:42], u16le(cwtv))
	copy(buf[42:44], u16le(1)) // ffi
	copy(buf[44:48], []byte("SCRM"))
	buf[48] = 64 // global volume
	buf[49] = 6  // initial speed
	buf[50] = 125
	buf[51] = 0x80
	buf[53] = 0 // no panning table
	for i := 0; i < 32; i++ {
		buf[64+i] = 0x80 // all channels disabled except we'll enable a few below
	}
	buf[64] = 0 // channel 0 enabled, mono PCM
	buf[65] = 1
	return buf
}

func TestIdentifiesSCRMMagic(t *testing.T) {
	data := buildS3M(0x1320)
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.Nil(t, perr)
	require.NotNil(t, module)
	assert.Equal(t, "test tune", module.Title)
	assert.EqualValues(t, 64, module.GlobalVolume)
}

func TestRejectsMissingMagic(t *testing.T) {
	data := buildS3M(0x1300)
	copy(data[44:48], []byte("XXXX"))
	h := New()
	_, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.NotNil(t, perr)
	assert.True(t, perr.Recoverable())
}

func TestSampleSegmentDecodeIsWTFEndian(t *testing.T) {
	// high byte 0x01, then little-endian 16 bits 0x3412 -> 0x013412.
	seg := sampleSegment([3]byte{0x01, 0x12, 0x34})
	assert.EqualValues(t, 0x013412, seg)
}

func TestBeRoTrackerFingerprint(t *testing.T) {
	data := buildS3M(0x4100)
	h := New()
	module, perr := h.AcceptAndParse(byteio.NewFromBytes(data))
	require.Nil(t, perr)
	assert.Contains(t, module.TrackerID, "BeRo")
}
