// trackdump
// Licensed under MIT

package byteio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderIntegers(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	r := NewFromBytes(data)

	u8, err := r.ReadU8()
	require.NoError(t, err)
	assert.EqualValues(t, 0x01, u8)

	u16le, err := r.ReadU16LE()
	require.NoError(t, err)
	assert.EqualValues(t, 0x0302, u16le)

	u16be, err := r.ReadU16BE()
	require.NoError(t, err)
	assert.EqualValues(t, 0x0405, u16be)

	u24le, err := r.ReadU24LE()
	require.NoError(t, err)
	assert.EqualValues(t, 0x080706, u24le)
}

func TestReaderU32(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	le, err := NewFromBytes(data).ReadU32LE()
	require.NoError(t, err)
	assert.EqualValues(t, 0xddccbbaa, le)

	be, err := NewFromBytes(data).ReadU32BE()
	require.NoError(t, err)
	assert.EqualValues(t, 0xaabbccdd, be)
}

func TestReaderShortRead(t *testing.T) {
	r := NewFromBytes([]byte{0x01, 0x02})
	_, err := r.ReadU32LE()
	assert.ErrorIs(t, err, ErrShortRead)
	assert.True(t, r.AtEnd())

	// sticky EOF: a subsequent read also fails even though the cursor
	// never actually advanced past the buffer.
	_, err = r.ReadU8()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReaderSeekAndPosition(t *testing.T) {
	r := NewFromBytes([]byte{0, 1, 2, 3, 4, 5})
	require.NoError(t, r.Skip(2))
	assert.EqualValues(t, 2, r.Position())

	require.NoError(t, r.Seek(4))
	v, err := r.ReadU8()
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	assert.EqualValues(t, 6, r.Length())
	assert.False(t, r.AtEnd())
	require.NoError(t, r.Skip(1))
	assert.True(t, r.AtEnd())
}

func TestReaderSeekPastEndThenRead(t *testing.T) {
	r := NewFromBytes([]byte{0, 1, 2})
	require.NoError(t, r.Seek(10))
	assert.True(t, r.AtEnd())
	_, err := r.ReadU8()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReaderInBounds(t *testing.T) {
	r := NewFromBytes(make([]byte, 100))
	assert.True(t, r.InBounds(0, 100))
	assert.True(t, r.InBounds(50, 50))
	assert.False(t, r.InBounds(50, 51))
	assert.False(t, r.InBounds(-1, 10))
	assert.False(t, r.InBounds(10, -1))
}

func TestReaderCloneAt(t *testing.T) {
	r := NewFromBytes([]byte{0, 1, 2, 3, 4, 5})
	require.NoError(t, r.Skip(1))

	clone, err := r.CloneAt(4)
	require.NoError(t, err)

	v, err := clone.ReadU8()
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	// the clone's advance must not affect the original cursor.
	assert.EqualValues(t, 1, r.Position())
}
