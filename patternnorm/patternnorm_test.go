// trackdump
// Licensed under MIT

package patternnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/common"
)

func TestNormalizeEmptyNoteSentinels(t *testing.T) {
	b := NewBuilder(1, 3, 0xff, 0xff, 0)
	b.Set(0, 0, RawCell{Note: 0xff, Instrument: 0xff, VolumeParm: 0})
	b.Set(0, 1, RawCell{Note: -1, Instrument: -1})
	b.Set(0, 2, RawCell{Note: 60, Instrument: 3})

	pattern, perr := b.Normalize(128)
	require.Nil(t, perr)
	require.Len(t, pattern.Events, 3)

	assert.EqualValues(t, 0, pattern.Events[0].Note)
	assert.EqualValues(t, 0, pattern.Events[1].Note)
	assert.EqualValues(t, 60, pattern.Events[2].Note)
	assert.EqualValues(t, 3, pattern.Events[2].Instrument)
}

func TestNormalizePromotesSecondaryEffects(t *testing.T) {
	b := NewBuilder(1, 1, 0, 0, 0)
	b.Set(0, 0, RawCell{
		Effects: []common.SecondaryEffect{
			{Effect: 1, Param: 0x10},
			{Effect: 2, Param: 0x20},
			{Effect: 3, Param: 0x30},
		},
	})

	pattern, perr := b.Normalize(0)
	require.Nil(t, perr)

	ev := pattern.Events[0]
	assert.EqualValues(t, 1, ev.Effect)
	assert.EqualValues(t, 0x10, ev.EffectParam)
	require.Len(t, ev.SecondaryEffects, 2)
	assert.EqualValues(t, 2, ev.SecondaryEffects[0].Effect)
	assert.EqualValues(t, 3, ev.SecondaryEffects[1].Effect)
}

func TestNormalizeTooManyEffectsIsFatal(t *testing.T) {
	b := NewBuilder(1, 1, 0, 0, 0)
	b.Set(0, 0, RawCell{
		Effects: []common.SecondaryEffect{
			{Effect: 1}, {Effect: 2}, {Effect: 3}, {Effect: 4}, {Effect: 5}, {Effect: 6},
		},
	})

	_, perr := b.Normalize(0)
	require.NotNil(t, perr)
	assert.Equal(t, "TooManyEffects", perr.Kind.String())
}

func TestColumnMajorTransposesOnStore(t *testing.T) {
	// A LIQ-style decoder walks track-by-track (channel-major) but must
	// still produce a row-major grid: writing channel 1's row 0 before
	// channel 0's row 1 must not corrupt the final layout.
	b := NewBuilder(2, 2, 0, 0, 0)
	b.SetColumnMajor(0, 1, RawCell{Note: 10})
	b.SetColumnMajor(1, 0, RawCell{Note: 20})
	b.SetColumnMajor(0, 0, RawCell{Note: 30})
	b.SetColumnMajor(1, 1, RawCell{Note: 40})

	pattern, perr := b.Normalize(0)
	require.Nil(t, perr)

	assert.EqualValues(t, 30, pattern.At(0, 0).Note)
	assert.EqualValues(t, 10, pattern.At(0, 1).Note)
	assert.EqualValues(t, 20, pattern.At(1, 0).Note)
	assert.EqualValues(t, 40, pattern.At(1, 1).Note)
}
