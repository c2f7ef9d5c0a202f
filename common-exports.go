// trackdump
// Licensed under MIT

package trackdump

import "github.com/mukunda/trackdump/common"

// Export the data model into the root package, the way modlib's
// common-exports.go re-exports common.Module et al. so a caller only ever
// imports "github.com/mukunda/trackdump".

type Module = common.Module
type ChannelSetting = common.ChannelSetting
type Instrument = common.Instrument
type NotemapEntry = common.NotemapEntry
type AdLibOperators = common.AdLibOperators
type SynthData = common.SynthData
type Envelope = common.Envelope
type EnvelopeNode = common.EnvelopeNode
type Sample = common.Sample
type SampleData = common.SampleData
type LoopType = common.LoopType
type CompressionStats = common.CompressionStats
type Pattern = common.Pattern
type Event = common.Event
type SecondaryEffect = common.SecondaryEffect
type Archive = common.Archive
type ArchiveEntry = common.ArchiveEntry
type MergeGroup = common.MergeGroup
type Usage = common.Usage
type Feature = common.Feature
type SourceFormat = common.SourceFormat
type OrderEntryKind = common.OrderEntryKind

const (
	UnknownSource = common.UnknownSource
	ModSource     = common.ModSource
	S3mSource     = common.S3mSource
	XmSource      = common.XmSource
	ItSource      = common.ItSource
	MedSource     = common.MedSource
	MasiSource    = common.MasiSource
	LiqSource     = common.LiqSource
	RtmSource     = common.RtmSource
	CocoSource    = common.CocoSource
)

const (
	NnaNoteCut  = common.NnaNoteCut
	NnaContinue = common.NnaContinue
	NnaNoteOff  = common.NnaNoteOff
	NnaFade     = common.NnaFade
)
