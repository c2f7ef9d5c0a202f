// trackdump
// Licensed under MIT

/*
Package patternnorm turns a handler's per-cell decoded event stream into
the uniform rows x channels common.Pattern grid every format normalizes
into, per spec.md §4.8. Each format's handler decodes its own packed, RLE,
sparse, or row-terminated on-disk cell layout and hands this package a
flat, already-ordered slice of RawCell values; this package owns only the
normalization rules that are common to all of them.
*/
package patternnorm

import (
	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/registry"
)

// RawCell is one decoded event cell before empty-value normalization and
// secondary-effect promotion. Note/Instrument/Volume use the source
// format's own sentinel for "empty"; NewBuilder's emptyNote,
// emptyInstrument and emptyVolume arguments tell Normalize what that
// sentinel is so it can fold it to zero. Notes of -1, 0 and 0xff and
// instruments of -1 and 0xff are folded to zero whatever the sentinel.
type RawCell struct {
	Note       int
	Instrument int
	VolumeCmd  int
	VolumeParm int

	// Effects holds every effect column this cell carries, primary first.
	// A format with only one effect column passes a single-element slice.
	Effects []common.SecondaryEffect
}

// Builder accumulates RawCells row-major (row 0 channel 0, row 0 channel
// 1, ...) or, for LIQ-style column-major sources, lets the caller set
// cells by explicit (row, channel) coordinate via SetColumnMajor.
type Builder struct {
	rows     int
	channels int
	cells    []RawCell
	set      []bool

	emptyNote       int
	emptyInstrument int
	emptyVolume     int
}

// NewBuilder allocates a rows x channels grid of empty RawCells. emptyNote,
// emptyInstrument and emptyVolume are the source format's sentinel values
// for "nothing here" (-1, 0xff, 0, or whatever the format uses); Normalize
// folds cells matching them to canonical zero.
func NewBuilder(rows, channels, emptyNote, emptyInstrument, emptyVolume int) *Builder {
	n := rows * channels
	return &Builder{
		rows: rows, channels: channels,
		cells:           make([]RawCell, n),
		set:             make([]bool, n),
		emptyNote:       emptyNote,
		emptyInstrument: emptyInstrument,
		emptyVolume:     emptyVolume,
	}
}

// Set stores cell at (row, channel) in row-major order, the layout every
// format but LIQ decodes natively.
func (b *Builder) Set(row, channel int, cell RawCell) {
	idx := row*b.channels + channel
	b.cells[idx] = cell
	b.set[idx] = true
}

// SetColumnMajor stores cell at (row, channel) but is named distinctly so
// LIQ's track-oriented decoder reads as transposing on store, never on
// read, per spec.md §4.8's explicit rule for that format.
func (b *Builder) SetColumnMajor(row, channel int, cell RawCell) {
	b.Set(row, channel, cell)
}

func isEmptyNote(v, sentinel int) bool {
	return v == sentinel || v == -1 || v == 0xff || v == 0
}

// Normalize materializes the common.Pattern. A cell may carry a primary
// effect plus up to common.MaxSecondaryEffects secondary ones; a cell with
// more raises TooManyEffects, which is fatal and aborts the whole pattern.
func (b *Builder) Normalize(packedBytes int) (*common.Pattern, *registry.ParseError) {
	events := make([]common.Event, len(b.cells))

	for i, raw := range b.cells {
		ev := common.Event{}

		if !isEmptyNote(raw.Note, b.emptyNote) {
			ev.Note = uint8(raw.Note)
		}
		if raw.Instrument != b.emptyInstrument && raw.Instrument != -1 && raw.Instrument != 0xff {
			ev.Instrument = uint16(raw.Instrument)
		}
		if raw.VolumeCmd != 0 || raw.VolumeParm != b.emptyVolume {
			ev.VolumeCommand = uint8(raw.VolumeCmd)
			ev.VolumeParam = uint8(raw.VolumeParm)
		}

		if len(raw.Effects) > 0 {
			if len(raw.Effects) > common.MaxSecondaryEffects+1 {
				return nil, registry.NewTooManyEffects("cell carries more effects than the model supports")
			}
			primary := raw.Effects[0]
			ev.Effect = primary.Effect
			ev.EffectParam = primary.Param
			if len(raw.Effects) > 1 {
				ev.SecondaryEffects = append([]common.SecondaryEffect(nil), raw.Effects[1:]...)
			}
		}

		events[i] = ev
	}

	return &common.Pattern{
		Rows:        b.rows,
		Channels:    b.channels,
		Events:      events,
		PackedBytes: packedBytes,
	}, nil
}
