// trackdump
// Licensed under MIT

/*
Package it handles Impulse Tracker modules: the IMPM magic, the
instrument/sample/pattern parapointer tables, the pre-2.00 vs 2.00+
instrument layouts, envelope decoding, and a scan-only pass over
IT-compressed sample data. Grounded on the teacher's itmod/itmod.go and
itmod/itmod-mapping.go for the new instrument layout and pattern
unpacking, and on original_source/src/it_load.cpp for header offsets,
the old instrument layout, and the compressed-sample feature set.
*/
package it

import (
	"fmt"
	"strings"

	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/patternnorm"
	"github.com/mukunda/trackdump/registry"
	"github.com/mukunda/trackdump/report"
)

var (
	FeatureOldFormat                     = common.Feature{Ordinal: 0, Label: "<2.00"}
	FeatureSampleMode                     = common.Feature{Ordinal: 1, Label: "SmplMode"}
	FeatureInstrumentMode                 = common.Feature{Ordinal: 2, Label: "InstMode"}
	FeatureSampleGlobalVolume             = common.Feature{Ordinal: 3, Label: "SmpGVL"}
	FeatureSampleVibrato                  = common.Feature{Ordinal: 4, Label: "SmpVib"}
	FeatureSampleCompression              = common.Feature{Ordinal: 5, Label: "SmpCmp"}
	FeatureSampleCompressionUnder1Quarter = common.Feature{Ordinal: 6, Label: "SmpCmp<1/4th"}
	FeatureSampleCompressionUnder1Eighth  = common.Feature{Ordinal: 7, Label: "SmpCmp<1/8th"}
	FeatureSampleCompressionInvalidWidth  = common.Feature{Ordinal: 8, Label: "SmpCmpInvalidBW"}
	FeatureSampleStereo                   = common.Feature{Ordinal: 9, Label: "S:Stereo"}
	FeatureSample16                       = common.Feature{Ordinal: 10, Label: "S:16"}
	FeatureSampleADPCM                    = common.Feature{Ordinal: 11, Label: "S:ADPCM"}
	FeatureEnvVolume                      = common.Feature{Ordinal: 12, Label: "EnvVol"}
	FeatureEnvPan                         = common.Feature{Ordinal: 13, Label: "EnvPan"}
	FeatureEnvPitch                       = common.Feature{Ordinal: 14, Label: "EnvPitch"}
	FeatureEnvFilter                      = common.Feature{Ordinal: 15, Label: "EnvFilter"}
)

const (
	flagStereo         = 1 << 0
	flagInstrumentMode = 1 << 2
	flagLinearSlides   = 1 << 3
	flagOldEffects     = 1 << 4
	flagLinkEFG        = 1 << 5
)

const (
	envEnabled = 1 << 0
	envLoop    = 1 << 1
	envSustain = 1 << 2
	envFilter  = 1 << 7
)

const (
	sampFlag16Bit      = 1 << 1
	sampFlagStereo     = 1 << 2
	sampFlagCompressed = 1 << 3
)

const headerSize = 192

type Handler struct {
	total int
}

func New() *Handler { return &Handler{} }

func (h *Handler) Name() string { return "Impulse Tracker" }
func (h *Handler) Tag() string  { return "IT" }

func (h *Handler) AcceptAndParse(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	start := reader.Position()
	if !reader.InBounds(start, headerSize) {
		return nil, registry.NewNotRecognized("file too short for an IT header")
	}

	magic, err := reader.ReadBytes(4)
	if err != nil {
		return nil, registry.NewNotRecognized("short read of IT magic")
	}
	if string(magic) != "IMPM" {
		return nil, registry.NewNotRecognized("missing IMPM magic")
	}

	header, err := reader.ReadBytes(headerSize - 4)
	if err != nil {
		return nil, registry.NewReadError(err)
	}

	name := strings.TrimRight(string(header[0:26]), "\x00 ")
	highlightBeat := header[26]
	highlightMeasure := header[27]
	numOrders := int(leU16(header[28:30]))
	numInstruments := int(leU16(header[30:32]))
	numSamples := int(leU16(header[32:34]))
	numPatterns := int(leU16(header[34:36]))
	trackerVersion := leU16(header[36:38])
	formatVersion := leU16(header[38:40])
	flags := leU16(header[40:42])
	special := leU16(header[42:44])
	globalVolume := header[44]
	mixVolume := header[45]
	initialSpeed := header[46]
	initialTempo := header[47]
	panSeparation := header[48]
	pitchWheelDepth := header[49]
	messageLength := leU16(header[50:52])
	messageOffset := leU32(header[52:56])
	channelPan := header[60:124]
	channelVolume := header[124:188]

	usage := common.NewUsage()
	if formatVersion < 0x200 {
		usage.Set(FeatureOldFormat)
	}
	instrumentMode := flags&flagInstrumentMode != 0
	if instrumentMode {
		usage.Set(FeatureInstrumentMode)
	} else {
		usage.Set(FeatureSampleMode)
	}

	orders, err := reader.ReadBytes(numOrders)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	ordersCopy := append([]byte(nil), orders...)

	var instrumentOffsets []uint32
	if numInstruments > 0 && instrumentMode {
		instrumentOffsets = make([]uint32, numInstruments)
		for i := range instrumentOffsets {
			v, err := reader.ReadU32LE()
			if err != nil {
				return nil, registry.NewReadError(err)
			}
			instrumentOffsets[i] = v
		}
	}

	sampleOffsets := make([]uint32, numSamples)
	for i := range sampleOffsets {
		v, err := reader.ReadU32LE()
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		sampleOffsets[i] = v
	}

	patternOffsets := make([]uint32, numPatterns)
	for i := range patternOffsets {
		v, err := reader.ReadU32LE()
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		patternOffsets[i] = v
	}

	tableEnd := reader.Position()
	fileLength := reader.Length()
	checkParapointer := func(offset uint32) *registry.ParseError {
		if offset == 0 {
			return nil
		}
		abs := start + int64(offset)
		if abs < tableEnd || abs > fileLength {
			return registry.NewInvalid(fmt.Sprintf("parapointer %d outside [%d, %d]", abs, tableEnd, fileLength))
		}
		return nil
	}

	instruments := make([]common.Instrument, numInstruments)
	if instrumentMode {
		for i, off := range instrumentOffsets {
			if perr := checkParapointer(off); perr != nil {
				return nil, perr
			}
			if off == 0 {
				continue
			}
			if err := reader.Seek(start + int64(off)); err != nil {
				return nil, registry.NewSeekError(err)
			}
			ins, perr := readInstrument(reader, formatVersion, &usage)
			if perr != nil {
				return nil, perr
			}
			instruments[i] = ins
		}
	}

	samples := make([]common.Sample, numSamples)
	sampleRaw := make([]sampleHeader, numSamples)
	for i, off := range sampleOffsets {
		if perr := checkParapointer(off); perr != nil {
			return nil, perr
		}
		if off == 0 {
			continue
		}
		if err := reader.Seek(start + int64(off)); err != nil {
			return nil, registry.NewSeekError(err)
		}
		s, raw, perr := readSample(reader)
		if perr != nil {
			return nil, perr
		}
		samples[i] = s
		sampleRaw[i] = raw

		if s.GlobalVolume < 0x40 {
			usage.Set(FeatureSampleGlobalVolume)
		}
		if s.VibratoDepth != 0 {
			usage.Set(FeatureSampleVibrato)
		}
		if raw.flags&sampFlagCompressed != 0 {
			usage.Set(FeatureSampleCompression)
		}
		if raw.flags&sampFlagStereo != 0 {
			usage.Set(FeatureSampleStereo)
		}
		if raw.flags&sampFlag16Bit != 0 {
			usage.Set(FeatureSample16)
		}
		if raw.convert == 0xff {
			usage.Set(FeatureSampleADPCM)
		}
	}

	for i := range samples {
		raw := sampleRaw[i]
		if raw.flags&sampFlagCompressed == 0 || raw.length == 0 {
			continue
		}
		if err := reader.Seek(start + int64(raw.sampleDataOffset)); err != nil {
			return nil, registry.NewSeekError(err)
		}
		is16 := raw.flags&sampFlag16Bit != 0
		stats, err := scanCompressedSample(reader, int(raw.length), is16)
		if err != nil {
			continue
		}
		if stats.InvalidBitWidth {
			usage.Set(FeatureSampleCompressionInvalidWidth)
		}
		if stats.CompressedBytes < int(raw.length)/8 {
			usage.Set(FeatureSampleCompressionUnder1Eighth)
		} else if stats.CompressedBytes < int(raw.length)/4 {
			usage.Set(FeatureSampleCompressionUnder1Quarter)
		}
		samples[i].Compression = stats
	}

	patterns := make([]common.Pattern, numPatterns)
	maxChannel := 0
	for i, off := range patternOffsets {
		if perr := checkParapointer(off); perr != nil {
			return nil, perr
		}
		if off == 0 {
			patterns[i] = common.Pattern{Rows: 64, Channels: 1, Events: make([]common.Event, 64)}
			continue
		}
		if err := reader.Seek(start + int64(off)); err != nil {
			return nil, registry.NewSeekError(err)
		}
		pattern, used, perr := readPattern(reader)
		if perr != nil {
			return nil, perr
		}
		patterns[i] = *pattern
		if used > maxChannel {
			maxChannel = used
		}
	}
	if maxChannel == 0 {
		maxChannel = 1
	}

	module := &common.Module{
		Source:          common.ItSource,
		Tag:             "IMPM",
		TrackerID:       fmt.Sprintf("IT %x (T:%x.%03x)", formatVersion, trackerVersion>>12, trackerVersion&0xfff),
		Title:           name,
		GlobalVolume:    int16(globalVolume),
		MixingVolume:    int16(mixVolume),
		InitialSpeed:    int16(initialSpeed),
		InitialTempo:    int16(initialTempo),
		PanSeparation:   int16(panSeparation),
		PitchWheelDepth: int16(pitchWheelDepth),
		PatternHighlightBeat:    int16(highlightBeat),
		PatternHighlightMeasure: int16(highlightMeasure),
		StereoMixing:    flags&flagStereo != 0,
		UseInstruments:  instrumentMode,
		LinearSlides:    flags&flagLinearSlides != 0,
		OldEffects:      flags&flagOldEffects != 0,
		LinkEFG:         flags&flagLinkEFG != 0,
		Channels:        int16(maxChannel),
		Order:           make([]int16, 0, len(ordersCopy)),
		OrderKind:       make([]common.OrderEntryKind, 0, len(ordersCopy)),
		Instruments:     instruments,
		Samples:         samples,
		Patterns:        patterns,
		ChannelSettings: make([]common.ChannelSetting, 64),
		Usage:           usage,
		Other: map[string]any{
			"FormatVersion": int(formatVersion),
		},
	}

	for _, o := range ordersCopy {
		if o == 255 {
			break
		}
		module.Order = append(module.Order, int16(o))
		kind := common.OrderNormal
		if o == 254 {
			kind = common.OrderSkip
		}
		module.OrderKind = append(module.OrderKind, kind)
	}

	for i := 0; i < 64; i++ {
		module.ChannelSettings[i] = common.ChannelSetting{
			InitialPan:    int16(channelPan[i] & 0x7f),
			InitialVolume: int16(channelVolume[i]),
			Mute:          channelPan[i]&0x80 != 0,
			Surround:      channelPan[i] == 100,
		}
	}

	if special&0x01 != 0 && messageLength != 0 {
		if err := reader.Seek(start + int64(messageOffset)); err != nil {
			return nil, registry.NewSeekError(err)
		}
		msg, err := reader.ReadBytes(int(messageLength))
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		module.Message = strings.Trim(string(msg), "\x00")
	}

	h.total++
	return module, nil
}

type sampleHeader struct {
	flags            uint8
	convert          uint8
	length           uint32
	sampleDataOffset uint32
}

func readSample(reader *byteio.Reader) (common.Sample, sampleHeader, *registry.ParseError) {
	magic, err := reader.ReadBytes(4)
	if err != nil {
		return common.Sample{}, sampleHeader{}, registry.NewReadError(err)
	}
	if string(magic) != "IMPS" {
		return common.Sample{}, sampleHeader{}, registry.NewInvalid("missing IMPS magic in sample record")
	}

	rest, err := reader.ReadBytes(76)
	if err != nil {
		return common.Sample{}, sampleHeader{}, registry.NewReadError(err)
	}

	filename := strings.TrimRight(string(rest[0:13]), "\x00 ")
	globalVolume := rest[13]
	flags := rest[14]
	defaultVolume := rest[15]
	name := strings.TrimRight(string(rest[16:42]), "\x00 ")
	convert := rest[42]
	defaultPan := rest[43]
	length := leU32(rest[44:48])
	loopStart := leU32(rest[48:52])
	loopEnd := leU32(rest[52:56])
	c5speed := leU32(rest[56:60])
	sustainStart := leU32(rest[60:64])
	sustainEnd := leU32(rest[64:68])
	sampleDataOffset := leU32(rest[68:72])
	vibSpeed := rest[72]
	vibDepth := rest[73]
	vibWaveform := rest[74]

	loop := common.LoopNone
	switch {
	case flags&0x40 != 0 && flags&0x10 != 0:
		loop = common.LoopPingPong
	case flags&0x10 != 0:
		loop = common.LoopForward
	}

	s := common.Sample{
		Name:           name,
		DosFilename:    filename,
		GlobalVolume:   int16(globalVolume),
		DefaultVolume:  int16(defaultVolume),
		DefaultPanning: int16(defaultPan),
		S16:            flags&sampFlag16Bit != 0,
		Stereo:         flags&sampFlagStereo != 0,
		Loop:           loop,
		LoopStart:      int(loopStart),
		LoopEnd:        int(loopEnd),
		SustainLoopStart: int(sustainStart),
		SustainLoopEnd:   int(sustainEnd),
		Length:         int(length),
		C5:             int(c5speed),
		VibratoSpeed:   int16(vibSpeed),
		VibratoDepth:   int16(vibDepth),
		VibratoWaveform: int16(vibWaveform),
	}

	raw := sampleHeader{
		flags:            flags,
		convert:          convert,
		length:           length,
		sampleDataOffset: sampleDataOffset,
	}

	return s, raw, nil
}

func readInstrument(reader *byteio.Reader, formatVersion uint16, usage *common.Usage) (common.Instrument, *registry.ParseError) {
	magic, err := reader.ReadBytes(4)
	if err != nil {
		return common.Instrument{}, registry.NewReadError(err)
	}
	if string(magic) != "IMPI" {
		return common.Instrument{}, registry.NewInvalid("missing IMPI magic in instrument record")
	}

	if formatVersion >= 0x200 {
		return readNewInstrument(reader, usage)
	}
	return readOldInstrument(reader, usage)
}

func readNewInstrument(reader *byteio.Reader, usage *common.Usage) (common.Instrument, *registry.ParseError) {
	rest, err := reader.ReadBytes(13+1+1+1+2+1+1+1+1+1+1+2+1+1+26+1+1+1+1+2+240)
	if err != nil {
		return common.Instrument{}, registry.NewReadError(err)
	}

	var ins common.Instrument
	ins.DosFilename = strings.TrimRight(string(rest[0:13]), "\x00 ")
	ins.NewNoteAction = int16(rest[13])
	ins.DuplicateCheckType = int16(rest[14])
	ins.DuplicateCheckAction = int16(rest[15])
	ins.Fadeout = int16(leU16(rest[16:18]))
	ins.PitchPanSeparation = int16(int8(rest[18]))
	ins.PitchPanCenter = int16(rest[19])
	ins.GlobalVolume = int16(rest[20])
	defaultPan := rest[21]
	ins.RandomVolumeVariation = int16(rest[22])
	ins.RandomPanVariation = int16(rest[23])
	// rest[24:26] tracker_version, rest[26] num_samples, rest[27] pad: ITI
	// instrument-file-only fields with no home in the common model.
	ins.Name = strings.TrimRight(string(rest[28:54]), "\x00 ")
	ins.FilterCutoff = int16(rest[54])
	ins.FilterResonance = int16(rest[55])
	ins.MidiChannel = int16(rest[56])
	ins.MidiProgram = int16(rest[57])
	ins.MidiBank = leU16(rest[58:60])

	ins.DefaultPanEnabled = defaultPan&0x80 == 0
	ins.DefaultPan = int16(defaultPan & 0x7f)

	keymap := rest[60:300]
	for i := 0; i < 120; i++ {
		ins.Notemap[i].Note = int16(keymap[i*2])
		ins.Notemap[i].Sample = int16(keymap[i*2+1])
	}

	for i := 0; i < 3; i++ {
		env, perr := readEnvelope(reader, i)
		if perr != nil {
			return ins, perr
		}
		if env.Enabled {
			switch env.Type {
			case common.EnvelopeTypeVolume:
				usage.Set(FeatureEnvVolume)
			case common.EnvelopeTypePanning:
				usage.Set(FeatureEnvPan)
			case common.EnvelopeTypePitch:
				usage.Set(FeatureEnvPitch)
			case common.EnvelopeTypeFilter:
				usage.Set(FeatureEnvFilter)
			}
		}
		ins.Envelopes = append(ins.Envelopes, env)
	}

	return ins, nil
}

// readOldInstrument decodes the pre-2.00 instrument layout: a single volume
// envelope inline with the header (no pan/pitch envelopes), fadeout stored
// at half scale, and 25 (tick,value) node pairs in byte-swapped order
// compared to the new layout. Grounded on it_load.cpp's IT_read_old_instrument.
func readOldInstrument(reader *byteio.Reader, usage *common.Usage) (common.Instrument, *registry.ParseError) {
	rest, err := reader.ReadBytes(13 + 5 + 2 + 2 + 1 + 1 + 2 + 1 + 1 + 26 + 6 + 240)
	if err != nil {
		return common.Instrument{}, registry.NewReadError(err)
	}

	var ins common.Instrument
	ins.DosFilename = strings.TrimRight(string(rest[0:13]), "\x00 ")

	envFlags := rest[13]
	loopStart := rest[14]
	loopEnd := rest[15]
	sustainStart := rest[16]
	sustainEnd := rest[17]
	// rest[18:20] is two padding bytes the original discards.

	ins.Fadeout = int16(leU16(rest[20:22])) << 1
	ins.NewNoteAction = int16(rest[22])
	ins.DuplicateCheckType = int16(rest[23] & 1)
	ins.DuplicateCheckAction = 1
	ins.Name = strings.TrimRight(string(rest[28:54]), "\x00 ")
	// rest[54:60] are six padding bytes.

	keymap := rest[60:300]
	for i := 0; i < 120; i++ {
		ins.Notemap[i].Note = int16(keymap[i*2])
		ins.Notemap[i].Sample = int16(keymap[i*2+1])
	}

	ins.DefaultPan = -1
	ins.FilterCutoff = -1
	ins.FilterResonance = -1

	if err := reader.Skip(200); err != nil {
		return ins, registry.NewReadError(err)
	}

	nodeBytes, err := reader.ReadBytes(50)
	if err != nil {
		return ins, registry.NewReadError(err)
	}

	env := common.Envelope{
		Enabled:      envFlags&envEnabled != 0,
		Loop:         envFlags&envLoop != 0,
		Sustain:      envFlags&envSustain != 0,
		Type:         common.EnvelopeTypeVolume,
		LoopStart:    int16(loopStart),
		LoopEnd:      int16(loopEnd),
		SustainStart: int16(sustainStart),
		SustainEnd:   int16(sustainEnd),
	}
	for i := 0; i < 25; i++ {
		tick := nodeBytes[i*2]
		value := int8(nodeBytes[i*2+1])
		env.Nodes = append(env.Nodes, common.EnvelopeNode{X: int16(tick), Y: int16(value)})
	}
	if env.Enabled {
		usage.Set(FeatureEnvVolume)
	}
	ins.Envelopes = append(ins.Envelopes, env)

	return ins, nil
}

func readEnvelope(reader *byteio.Reader, index int) (common.Envelope, *registry.ParseError) {
	header, err := reader.ReadBytes(6)
	if err != nil {
		return common.Envelope{}, registry.NewReadError(err)
	}
	nodeBytes, err := reader.ReadBytes(25 * 3)
	if err != nil {
		return common.Envelope{}, registry.NewReadError(err)
	}
	if err := reader.Skip(1); err != nil {
		return common.Envelope{}, registry.NewReadError(err)
	}

	flags := header[0]
	numNodes := int(header[1])

	env := common.Envelope{
		Enabled:      flags&envEnabled != 0,
		Loop:         flags&envLoop != 0,
		Sustain:      flags&envSustain != 0,
		LoopStart:    int16(header[2]),
		LoopEnd:      int16(header[3]),
		SustainStart: int16(header[4]),
		SustainEnd:   int16(header[5]),
	}
	switch index {
	case 0:
		env.Type = common.EnvelopeTypeVolume
	case 1:
		env.Type = common.EnvelopeTypePanning
	case 2:
		env.Type = common.EnvelopeTypePitch
		if flags&envFilter != 0 {
			env.Type = common.EnvelopeTypeFilter
		}
	}

	for i := 0; i < numNodes && i < 25; i++ {
		value := int8(nodeBytes[i*3])
		tick := leU16(nodeBytes[i*3+1 : i*3+3])
		env.Nodes = append(env.Nodes, common.EnvelopeNode{X: int16(tick), Y: int16(value)})
	}

	return env, nil
}

const (
	pmaskNote       = 1
	pmaskIns        = 2
	pmaskVol        = 4
	pmaskEffect     = 8
	pmaskLastNote   = 16
	pmaskLastIns    = 32
	pmaskLastVol    = 64
	pmaskLastEffect = 128
)

// readPattern decodes the channel-mask-driven IT cell stream into a
// normalized Pattern, grounded on the teacher's itmod.go loadPattern.
func readPattern(reader *byteio.Reader) (*common.Pattern, int, *registry.ParseError) {
	dataLength, err := reader.ReadU16LE()
	if err != nil {
		return nil, 0, registry.NewReadError(err)
	}
	rows, err := reader.ReadU16LE()
	if err != nil {
		return nil, 0, registry.NewReadError(err)
	}
	if err := reader.Skip(4); err != nil {
		return nil, 0, registry.NewReadError(err)
	}
	data, err := reader.ReadBytes(int(dataLength))
	if err != nil {
		return nil, 0, registry.NewReadError(err)
	}

	builder := patternnorm.NewBuilder(int(rows), 64, 0, 0, 0)

	var lastMask, lastNote, lastIns, lastVol, lastEffect, lastEffectParam [64]byte
	pos := 0
	maxChannel := 0

	nextByte := func() (byte, bool) {
		if pos >= len(data) {
			return 0, false
		}
		b := data[pos]
		pos++
		return b, true
	}

	for row := 0; row < int(rows); row++ {
		for {
			channelSelect, ok := nextByte()
			if !ok {
				return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
			}
			if channelSelect == 0 {
				break
			}

			channel := int((channelSelect - 1) & 63)
			if channel+1 > maxChannel {
				maxChannel = channel + 1
			}

			if channelSelect&0x80 != 0 {
				m, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				lastMask[channel] = m
			}
			mask := lastMask[channel]

			cell := patternnorm.RawCell{}

			if mask&pmaskNote != 0 {
				n, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				lastNote[channel] = n
			}
			if mask&(pmaskNote|pmaskLastNote) != 0 {
				cell.Note = int(translateNote(lastNote[channel]))
			}

			if mask&pmaskIns != 0 {
				ins, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				lastIns[channel] = ins
			}
			if mask&(pmaskIns|pmaskLastIns) != 0 {
				cell.Instrument = int(lastIns[channel])
			}

			if mask&pmaskVol != 0 {
				v, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				lastVol[channel] = v
			}
			if mask&(pmaskVol|pmaskLastVol) != 0 {
				cell.VolumeCmd, cell.VolumeParm = translatePatternVolume(lastVol[channel])
			}

			if mask&pmaskEffect != 0 {
				e, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				p, ok := nextByte()
				if !ok {
					return nil, 0, registry.NewInvalid("unexpected end of IT pattern data")
				}
				lastEffect[channel] = e
				lastEffectParam[channel] = p
			}
			if mask&(pmaskEffect|pmaskLastEffect) != 0 {
				cell.Effects = []common.SecondaryEffect{{Effect: lastEffect[channel], Param: lastEffectParam[channel]}}
			}

			builder.Set(row, channel, cell)
		}
	}

	pattern, perr := builder.Normalize(int(dataLength))
	if perr != nil {
		return nil, 0, perr
	}
	return pattern, maxChannel, nil
}

func translateNote(note uint8) uint8 {
	switch {
	case note <= 120:
		return note + 1
	case note == 253:
		return common.NoteFade
	case note == 254:
		return common.NoteCut
	case note == 255:
		return common.NoteOff
	default:
		return 0
	}
}

// translatePatternVolume splits IT's single combined volume byte into a
// volume-command / parameter pair spanning plain volume, volume slides,
// panning, and the low/high port-to-note ranges.
func translatePatternVolume(vol uint8) (int, int) {
	v := int(vol)
	switch {
	case v <= 64:
		return 1, v
	case v <= 74:
		return 2, v - 65
	case v <= 84:
		return 3, v - 75
	case v <= 94:
		return 4, v - 85
	case v <= 104:
		return 5, v - 95
	case v <= 114:
		return 6, v - 105
	case v <= 124:
		return 7, v - 115
	case v <= 127:
		return 0, 0
	case v <= 192:
		return 8, v - 128
	case v <= 202:
		return 9, v - 193
	case v <= 212:
		return 10, v - 203
	}
	return 0, 0
}

func (h *Handler) ReportGlobalStats(reporter report.Reporter) {
	if h.total == 0 {
		return
	}
	reporter.Line("Total ITs", fmt.Sprintf("%d", h.total))
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
