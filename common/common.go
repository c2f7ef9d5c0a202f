// trackdump
// Licensed under MIT

/*
Package common is the medium every format handler parses into. It is based
on the teacher's IT-shaped intermediate format, generalized so that MOD,
S3M, MED, MASI, LIQ, RTM and Coconizer sources all normalize into the same
Module/Instrument/Pattern/Event shapes.
*/
package common

// SourceFormat identifies which handler produced a Module.
type SourceFormat int16

const (
	UnknownSource SourceFormat = iota
	ModSource
	S3mSource
	XmSource
	ItSource
	MedSource
	MasiSource
	LiqSource
	RtmSource
	CocoSource
)

func (s SourceFormat) String() string {
	switch s {
	case ModSource:
		return "MOD"
	case S3mSource:
		return "S3M"
	case XmSource:
		return "XM"
	case ItSource:
		return "IT"
	case MedSource:
		return "MED"
	case MasiSource:
		return "MASI"
	case LiqSource:
		return "LIQ"
	case RtmSource:
		return "RTM"
	case CocoSource:
		return "Coconizer"
	default:
		return "unknown"
	}
}

// Module is the root parsed artifact. A handler builds one, the renderer
// consumes it, and nothing outlives the parse call except what the renderer
// copies out.
type Module struct {
	Source SourceFormat

	// Identifying tag/magic as found on disk, and a derived display string
	// such as "Protracker M.K." or "Mod's Grave".
	Tag             string
	TrackerID       string
	Title           string
	GlobalVolume    int16
	MixingVolume    int16
	InitialSpeed    int16
	InitialTempo    int16
	PanSeparation   int16
	PitchWheelDepth int16
	StereoMixing    bool
	UseInstruments  bool
	LinearSlides    bool
	OldEffects      bool
	LinkEFG         bool
	Channels        int16

	Message string

	PatternHighlightBeat    int16
	PatternHighlightMeasure int16

	ChannelSettings []ChannelSetting

	// Order is the play-order sequence of pattern indices. Values that do
	// not address a real pattern are preserved and classified via OrderKind.
	Order     []int16
	OrderKind []OrderEntryKind

	Instruments []Instrument
	Samples     []Sample
	Patterns    []Pattern

	Usage Usage

	// Warnings accumulated during a non-fatal short read or recoverable
	// structural oddity. Never causes the parse to fail.
	Warnings []string

	// Other carries format-specific scalar diagnostics (header words, flags)
	// that the reporter may want to print but that don't belong in the
	// common model proper.
	Other map[string]any
}

// OrderEntryKind classifies a raw order-list value.
type OrderEntryKind uint8

const (
	OrderNormal OrderEntryKind = iota
	OrderEndOfSong
	OrderSkip
	OrderInvalid
)

type ChannelSetting struct {
	Name          string
	InitialVolume int16 // 0-64
	InitialPan    int16 // 0-64
	Mute          bool
	Surround      bool
}

// New-note-action values.
const (
	NnaNoteCut  = 0
	NnaContinue = 1
	NnaNoteOff  = 2
	NnaFade     = 3
)

// Duplicate-check-type values.
const (
	DctOff        = 0
	DctNote       = 1
	DctSample     = 2
	DctInstrument = 3
	DctPlugin     = 4
)

// InstrumentKind discriminates the union of instrument shapes across
// formats: plain PCM sample, FM/AdLib operator set, synth (MED), a hybrid
// of the two, IFF-octave sample (old MED), MIDI passthrough, or a declared
// but unused slot.
type InstrumentKind int16

const (
	InstrumentEmpty InstrumentKind = iota
	InstrumentSample
	InstrumentAdLib
	InstrumentSynth
	InstrumentHybrid
	InstrumentIFFOctave
	InstrumentMIDI
)

type Instrument struct {
	Kind InstrumentKind

	Name        string
	DosFilename string

	NewNoteAction        int16
	DuplicateCheckType   int16
	DuplicateCheckAction int16
	Fadeout              int16

	PitchPanSeparation int16
	PitchPanCenter     int16 // 0-119

	GlobalVolume int16

	DefaultPan        int16
	DefaultPanEnabled bool

	RandomVolumeVariation int16
	RandomPanVariation    int16

	FilterCutoff    int16
	FilterResonance int16

	MidiChannel int16
	MidiProgram int16
	MidiBank    uint16

	// Notemap maps source note -> sample index (IT/XM style keymap). Formats
	// without a keymap leave it zero-valued and index Samples directly.
	Notemap [120]NotemapEntry

	Envelopes []Envelope

	// AdLib carries the 12 FM operator bytes (S3M/MED AdLib instruments).
	AdLib *AdLibOperators

	// Synth carries MED-style synth/hybrid waveform and volume tables.
	Synth *SynthData

	// Hold/decay/finetune: MED instrument extension fields.
	Hold     int16
	Decay    int16
	Finetune int16

	// SampleIndex is the single backing sample for formats (MOD, S3M, MED)
	// where one instrument owns exactly one sample.
	SampleIndex int
}

type NotemapEntry struct {
	Note   int16
	Sample int16
}

type AdLibOperators struct {
	Operators [12]byte
}

type SynthData struct {
	DefaultDecay         uint8
	VolumeTableSpeed     uint8
	WaveformTableSpeed   uint8
	VolumeTable          []uint8
	WaveformTable        []uint8
	NumWaveforms         int
	HybridSampleLength   uint32
	HybridInstrumentType int16
}

type EnvelopeType int16

const (
	EnvelopeTypeVolume EnvelopeType = iota
	EnvelopeTypePanning
	EnvelopeTypePitch
	EnvelopeTypeFilter
)

type Envelope struct {
	Enabled bool
	Loop    bool
	Sustain bool
	Type    EnvelopeType

	LoopStart    int16
	LoopEnd      int16
	SustainStart int16
	SustainEnd   int16

	Nodes []EnvelopeNode
}

type EnvelopeNode struct {
	X int16
	Y int16
}

const (
	SampleVibratoWaveformSine   = 0
	SampleVibratoWaveformRamp   = 1
	SampleVibratoWaveformSquare = 2
	SampleVibratoWaveformRandom = 3
)

// LoopType enumerates the loop shapes a Sample can declare.
type LoopType int8

const (
	LoopNone LoopType = iota
	LoopForward
	LoopPingPong
	LoopSustain
	LoopSustainPingPong
)

type Sample struct {
	Name        string
	DosFilename string

	GlobalVolume   int16
	DefaultVolume  int16
	DefaultPanning int16

	S16    bool
	Stereo bool
	Loop   LoopType

	// LoopStart/LoopEnd/Length are in sample frames, not bytes.
	LoopStart        int
	LoopEnd          int
	SustainLoopStart int
	SustainLoopEnd   int
	Length           int

	// C5 is the base playback rate in Hz (IT/S3M/MED name it "C5 speed" or
	// "C-4/C-5 speed" depending on format and version).
	C5 int

	VibratoSpeed    int16
	VibratoDepth    int16
	VibratoSweep    int16
	VibratoWaveform int16

	// Compression, if the sample payload was IT-compressed. Nil for
	// uncompressed/PCM samples. The core never materializes compressed PCM;
	// this only records the scan statistics from ITSampleDepacker.
	Compression *CompressionStats

	// Data holds decoded PCM for uncompressed samples: []int8 or []int16
	// depending on Bits, one slice per channel (mono has one entry, stereo
	// has left then right).
	Data SampleData
}

type SampleData struct {
	Channels int8
	Bits     int8
	Data     []any
}

// CompressionStats is what ITSampleDepacker produces for a compressed
// sample: per-block statistics only, never materialized PCM.
type CompressionStats struct {
	CompressedBytes   int
	UncompressedBytes int
	SmallestBlock     int
	LargestBlock      int
	SmallestBlockLen  int
	InvalidBitWidth   bool
}

// Pattern is the normalized rows x channels grid. PatternNormalizer
// guarantees len(Events) == Rows*Channels regardless of the source
// encoding (packed, RLE, sparse, row-terminated).
type Pattern struct {
	Rows     int
	Channels int
	Events   []Event

	// HighlightRows, if non-nil, marks rows to visually separate (beat /
	// measure boundaries) for the reporter.
	HighlightRows []bool

	// PackedBytes is the declared on-disk size of this pattern's packed
	// representation, retained for reporting only.
	PackedBytes int
}

func (p *Pattern) At(row, channel int) *Event {
	return &p.Events[row*p.Channels+channel]
}

// Event is one cell of a pattern. Zero value is "empty" for every field.
type Event struct {
	Note       uint8 // 0 = empty, 1..n = pitch, sentinels for cut/off/fade
	Instrument uint16

	VolumeCommand uint8
	VolumeParam   uint8

	Effect      uint8
	EffectParam uint8

	// SecondaryEffects holds up to 4 additional effect columns some formats
	// (RTM, MED) carry per cell.
	SecondaryEffects []SecondaryEffect
}

type SecondaryEffect struct {
	Effect uint8
	Param  uint8
}

// Note sentinels, beyond ordinary pitches 1..120.
const (
	NoteEmpty   = 0
	NoteFade    = 253
	NoteCut     = 254
	NoteOff     = 255
)

// MaxSecondaryEffects bounds SecondaryEffects; exceeding it is a fatal
// TooManyEffects condition raised by the normalizer.
const MaxSecondaryEffects = 4

// Archive is the root parsed artifact for container formats (LZX, ArcFS):
// an ordered list of entries pointing into a backing buffer, plus optional
// merge groups for LZX's split decompression records.
type Archive struct {
	Kind    string
	Entries []ArchiveEntry

	// MergeGroups lists contiguous entry-index ranges [Start,End) whose
	// decompressed output is produced together by the entry at End-1.
	MergeGroups []MergeGroup

	Backing []byte
}

type ArchiveEntry struct {
	Name             string
	Method           int
	CompressedSize   uint32
	UncompressedSize uint32
	Offset           uint32 // offset of payload within Backing
	Merged           bool
	CRC32            uint32
	HeaderCRC32      uint32
	HeaderCRCValid   bool
	ExtractVersion   uint8
}

type MergeGroup struct {
	Start, End int // entry index range, End is the terminal (payload-owning) entry index + 1
}
