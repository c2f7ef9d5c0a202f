// trackdump
// Licensed under MIT

package trackdump

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMOD assembles the same minimal 4-channel Protracker "M.K." fixture
// formats/mod's own tests use, to exercise dispatch through the full
// registry without a binary fixture file.
func buildMOD(magic string, numOrders int, restartByte byte) []byte {
	buf := make([]byte, 0, 2048)
	buf = append(buf, make([]byte, 20)...)

	for i := 0; i < 31; i++ {
		buf = append(buf, make([]byte, 22)...)
		buf = append(buf, 0, 0)
		buf = append(buf, 0)
		buf = append(buf, 0x40)
		buf = append(buf, 0, 0)
		buf = append(buf, 0, 0)
	}

	buf = append(buf, byte(numOrders), restartByte)
	buf = append(buf, make([]byte, 128)...)
	buf = append(buf, []byte(magic)...)
	buf = append(buf, make([]byte, 4*64*4)...)
	return buf
}

func TestLoadFromStreamDispatchesToMOD(t *testing.T) {
	data := buildMOD("M.K.", 1, 0x7f)

	module, err := LoadFromStream(bytes.NewReader(data))
	require.NoError(t, err)
	require.NotNil(t, module)

	assert.Equal(t, ModSource, module.Source)
	assert.EqualValues(t, 4, module.Channels)
}

func TestLoadFromStreamRejectsUnrecognizedInput(t *testing.T) {
	_, err := LoadFromStream(bytes.NewReader([]byte("not a tracker module")))
	assert.Error(t, err)
}

func TestNewRegistryOrdersMagicFormatsBeforeHeuristics(t *testing.T) {
	reg := NewRegistry()
	handlers := reg.Handlers()
	require.NotEmpty(t, handlers)

	tags := make([]string, len(handlers))
	for i, h := range handlers {
		tags[i] = h.Tag()
	}

	modIndex, cocoIndex := -1, -1
	for i, tag := range tags {
		if tag == "MOD" {
			modIndex = i
		}
		if tag == "COCO" {
			cocoIndex = i
		}
	}
	require.NotEqual(t, -1, modIndex)
	require.NotEqual(t, -1, cocoIndex)
	assert.Less(t, modIndex, cocoIndex)
}
