// trackdump
// Licensed under MIT

package arcfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHeader(entriesLength, dataOffset, formatVersion uint32) []byte {
	h := make([]byte, headerSize)
	copy(h, "Archive\x00")
	binary.LittleEndian.PutUint32(h[8:12], entriesLength)
	binary.LittleEndian.PutUint32(h[12:16], dataOffset)
	binary.LittleEndian.PutUint32(h[16:20], 260)
	binary.LittleEndian.PutUint32(h[20:24], 260)
	binary.LittleEndian.PutUint32(h[24:28], formatVersion)
	return h
}

func buildEntry(kind byte, filename string, uncompressedSize, compressedSize uint32, crc16 uint16, isDirectory bool, infoOffset uint32) []byte {
	e := make([]byte, entrySize)
	e[0] = kind
	copy(e[1:12], filename)
	binary.LittleEndian.PutUint32(e[12:16], uncompressedSize)
	binary.LittleEndian.PutUint32(e[28:32], compressedSize)
	binary.LittleEndian.PutUint16(e[26:28], crc16)

	info := infoOffset & 0x7fffffff
	if isDirectory {
		info |= 0x80000000
	}
	binary.LittleEndian.PutUint32(e[32:36], info)
	return e
}

// buildArchive assembles: file "A" (unpacked) at top level, directory
// "DIR" whose sole child is file "B" (packed, reusing lzx_test.go's
// hand-verified uncompressed-block fixture as its compressed stream).
func buildArchive() []byte {
	contentA := []byte{0x01, 0x02, 0x03}
	lzxStreamB := []byte{
		0x00, 0x01, 0x00, 0x20,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0xAA, 0xBB, 0xCC, 0xDD,
	}

	entryA := buildEntry(typeUnpacked, "A", uint32(len(contentA)), uint32(len(contentA)),
		crc16IBM(contentA), false, 0)
	entryDir := buildEntry(typeUnpacked, "DIR", 0, 0, 0, true, 3) // sibling jump past its 1 child
	entryB := buildEntry(typePacked, "B", 4, uint32(len(lzxStreamB)), crc16IBM([]byte{0xAA, 0xBB, 0xCC, 0xDD}),
		false, uint32(len(contentA)))

	entriesLength := uint32(3 * entrySize)
	dataOffset := uint32(headerSize) + entriesLength

	header := buildHeader(entriesLength, dataOffset, 0)

	data := append([]byte{}, header...)
	data = append(data, entryA...)
	data = append(data, entryDir...)
	data = append(data, entryB...)
	data = append(data, contentA...)
	data = append(data, lzxStreamB...)
	return data
}

func TestParseRejectsMissingMagic(t *testing.T) {
	_, err := Parse(make([]byte, headerSize))
	require.Error(t, err)
}

func TestParseFlattensDirectoryTree(t *testing.T) {
	archive, err := Parse(buildArchive())
	require.NoError(t, err)
	require.Len(t, archive.Entries, 3)

	assert.Equal(t, "A", archive.Entries[0].Name)
	assert.False(t, archive.Entries[0].IsDirectory)

	assert.Equal(t, "DIR", archive.Entries[1].Name)
	assert.True(t, archive.Entries[1].IsDirectory)

	assert.Equal(t, "DIR/B", archive.Entries[2].Name)
	assert.False(t, archive.Entries[2].IsDirectory)
}

func TestExtractUnpackedEntry(t *testing.T) {
	archive, err := Parse(buildArchive())
	require.NoError(t, err)

	out, err := ExtractEntry(archive, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, out)
	assert.True(t, VerifyCRC16(archive.Entries[0], out))
}

func TestExtractPackedEntryUnderDirectory(t *testing.T) {
	archive, err := Parse(buildArchive())
	require.NoError(t, err)

	idx, ok := Find(archive, "DIR/B")
	require.True(t, ok)

	out, err := ExtractEntry(archive, idx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, out)
	assert.True(t, VerifyCRC16(archive.Entries[idx], out))
}

func TestExtractDirectoryFails(t *testing.T) {
	archive, err := Parse(buildArchive())
	require.NoError(t, err)

	idx, ok := Find(archive, "DIR")
	require.True(t, ok)

	_, err = ExtractEntry(archive, idx)
	require.Error(t, err)
}

func TestVerifyCRC16TreatsZeroAsUnchecked(t *testing.T) {
	entry := Entry{CRC16: 0}
	assert.True(t, VerifyCRC16(entry, []byte{0xde, 0xad}))
}

func TestDeletedEntriesAreSkipped(t *testing.T) {
	entryA := buildEntry(typeUnpacked, "A", 1, 1, 0, false, 0)
	entryDeleted := buildEntry(typeDeleted, "GONE", 0, 0, 0, false, 0)
	entryB := buildEntry(typeUnpacked, "B", 1, 1, 0, false, 1)

	entriesLength := uint32(3 * entrySize)
	dataOffset := uint32(headerSize) + entriesLength
	header := buildHeader(entriesLength, dataOffset, 0)

	data := append([]byte{}, header...)
	data = append(data, entryA...)
	data = append(data, entryDeleted...)
	data = append(data, entryB...)
	data = append(data, []byte{0xAA, 0xBB}...)

	archive, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, archive.Entries, 2)
	assert.Equal(t, "A", archive.Entries[0].Name)
	assert.Equal(t, "B", archive.Entries[1].Name)
}
