// trackdump
// Licensed under MIT

package bitio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestITReaderPacksAndUnpacksLSBFirst(t *testing.T) {
	// Two 3-bit codes (2, 5) packed into one byte, LSB first:
	// byte = 2 | (5 << 3) = 0b0010_1010
	data := []byte{0b00101010}
	r := NewITReader(data, len(data))

	a, err := r.Read(3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, a)

	b, err := r.Read(3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, b)
}

func TestITReaderWidthsAcrossByteBoundary(t *testing.T) {
	data := []byte{0xff, 0x01}
	r := NewITReader(data, len(data))

	v, err := r.Read(9)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1ff, v)
}

func TestITReaderRejectsOutOfRangeWidth(t *testing.T) {
	r := NewITReader([]byte{0x00}, 1)
	_, err := r.Read(0)
	assert.ErrorIs(t, err, ErrBadWidth)
	_, err = r.Read(25)
	assert.ErrorIs(t, err, ErrBadWidth)
}

func TestITReaderEndOfBlock(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewITReader(data, 2)

	assert.False(t, r.EndOfBlock())
	_, err := r.Read(8)
	require.NoError(t, err)
	assert.False(t, r.EndOfBlock())
	_, err = r.Read(8)
	require.NoError(t, err)
	assert.True(t, r.EndOfBlock())

	// third byte lies past the declared block budget even though more
	// source bytes exist.
	_, err = r.Read(8)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestITReaderShortSource(t *testing.T) {
	r := NewITReader([]byte{0x01}, 1)
	_, err := r.Read(16)
	assert.ErrorIs(t, err, ErrEndOfStream)
}
