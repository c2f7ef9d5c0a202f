// trackdump
// Licensed under MIT

/*
Package rtm handles Real Tracker 2 modules: a nested IFF-like container of
42-byte object shells (RTMM/RTND/RTIN/RTSM), a flag-byte driven per-cell
pattern stream with two independent command/param columns, and an
XM-descended effect set extended with S3M-compatibility codes. Grounded on
original_source's rtm_load.cpp.
*/
package rtm

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
	FeatureLinearTables = common.Feature{Ordinal: 0, Label: "M:Linear"}
	FeatureAmigaTables  = common.Feature{Ordinal: 1, Label: "M:Amiga"}
	FeatureTrackNames   = common.Feature{Ordinal: 2, Label: "M:TrackNames"}
	FeatureEffectOver40 = common.Feature{Ordinal: 3, Label: "E:>40"}

	// Effect features, one per primary command column value plus a
	// handful split out of the 0x0e (extended) and 0x1c (extended IT)
	// sub-commands, mirroring RTM_effect_usage's two lookup tables.
	featArpeggio          = common.Feature{Ordinal: 4, Label: "E:0xyArpeggio"}
	featPortaUp           = common.Feature{Ordinal: 5, Label: "E:1xxPortaUp"}
	featPortaDown         = common.Feature{Ordinal: 6, Label: "E:2xxPortaDn"}
	featTonePorta         = common.Feature{Ordinal: 7, Label: "E:3xxToneporta"}
	featVibrato           = common.Feature{Ordinal: 8, Label: "E:4xyVibrato"}
	featTonePortaVolslide = common.Feature{Ordinal: 9, Label: "E:5xyPortaVol"}
	featVibratoVolslide   = common.Feature{Ordinal: 10, Label: "E:6xyVibratoVol"}
	featTremolo           = common.Feature{Ordinal: 11, Label: "E:7xyTremolo"}
	featPan               = common.Feature{Ordinal: 12, Label: "E:8xxPan"}
	featOffset            = common.Feature{Ordinal: 13, Label: "E:9xxOffset"}
	featVolslide          = common.Feature{Ordinal: 14, Label: "E:AxyVolslide"}
	featJump              = common.Feature{Ordinal: 15, Label: "E:BxxJump"}
	featVolume            = common.Feature{Ordinal: 16, Label: "E:CxxVolume"}
	featBreak             = common.Feature{Ordinal: 17, Label: "E:DxxBreak"}
	featEx0               = common.Feature{Ordinal: 18, Label: "E:E0x"}
	featExFinePortaUp     = common.Feature{Ordinal: 19, Label: "E:E1xFinePortaUp"}
	featExFinePortaDown   = common.Feature{Ordinal: 20, Label: "E:E2xFinePortaDn"}
	featExGlissando       = common.Feature{Ordinal: 21, Label: "E:E3xGlissando"}
	featExVibratoControl  = common.Feature{Ordinal: 22, Label: "E:E4xVibratoCtrl"}
	featExFinetune        = common.Feature{Ordinal: 23, Label: "E:E5xFinetune"}
	featExLoop            = common.Feature{Ordinal: 24, Label: "E:E6xLoop"}
	featExTremoloControl  = common.Feature{Ordinal: 25, Label: "E:E7xTremoloCtrl"}
	featExPan             = common.Feature{Ordinal: 26, Label: "E:E8xPan"}
	featExRetrig          = common.Feature{Ordinal: 27, Label: "E:E9xRetrig"}
	featExFineVolUp       = common.Feature{Ordinal: 28, Label: "E:EAxFineVolUp"}
	featExFineVolDown     = common.Feature{Ordinal: 29, Label: "E:EBxFineVolDn"}
	featExNoteCut         = common.Feature{Ordinal: 30, Label: "E:ECxNoteCut"}
	featExNoteDelay       = common.Feature{Ordinal: 31, Label: "E:EDxNoteDelay"}
	featExPatternDelay    = common.Feature{Ordinal: 32, Label: "E:EExPatternDelay"}
	featExF               = common.Feature{Ordinal: 33, Label: "E:EFx"}
	featTempo             = common.Feature{Ordinal: 34, Label: "E:FxxTempo"}
	featGlobalVolume      = common.Feature{Ordinal: 35, Label: "E:GxxGVolume"}
	featGlobalVolslide    = common.Feature{Ordinal: 36, Label: "E:HxxGVolslide"}
	featI                 = common.Feature{Ordinal: 37, Label: "E:Ixx"}
	featJ                 = common.Feature{Ordinal: 38, Label: "E:Jxx"}
	featNoteCut           = common.Feature{Ordinal: 39, Label: "E:KxxNoteCut"}
	featEnvelopePosition  = common.Feature{Ordinal: 40, Label: "E:LxxEnvPos"}
	featMidiController    = common.Feature{Ordinal: 41, Label: "E:MxxMIDICtrl"}
	featN                 = common.Feature{Ordinal: 42, Label: "E:Nxx"}
	featO                 = common.Feature{Ordinal: 43, Label: "E:Oxx"}
	featPanSlide          = common.Feature{Ordinal: 44, Label: "E:PxxPanslide"}
	featQ                 = common.Feature{Ordinal: 45, Label: "E:Qxx"}
	featMultiRetrig       = common.Feature{Ordinal: 46, Label: "E:RxyMultiRetrig"}
	featExHighOffset      = common.Feature{Ordinal: 47, Label: "E:SAxHiOffset"}
	featExSxy             = common.Feature{Ordinal: 48, Label: "E:Sxy"}
	featTremor            = common.Feature{Ordinal: 49, Label: "E:TxyTremor"}
	featU                 = common.Feature{Ordinal: 50, Label: "E:Uxx"}
	featMidiControllerVal = common.Feature{Ordinal: 51, Label: "E:VxxMIDICtrlVal"}
	featW                 = common.Feature{Ordinal: 52, Label: "E:Wxx"}
	featExtraFinePorta    = common.Feature{Ordinal: 53, Label: "E:XxyExFinePorta"}
	featY                 = common.Feature{Ordinal: 54, Label: "E:Yxx"}
	featZ                 = common.Feature{Ordinal: 55, Label: "E:Zxx"}
	featS3mVolslide       = common.Feature{Ordinal: 56, Label: "E:dxyS3MVolslide"}
	featS3mPortaUp        = common.Feature{Ordinal: 57, Label: "E:fxxS3MPortaUp"}
	featS3mPortaDown      = common.Feature{Ordinal: 58, Label: "E:exxS3MPortaDn"}
	featS3mVibratoVolslide = common.Feature{Ordinal: 59, Label: "E:kxyS3MVibratoVol"}
	featS3mSpeed          = common.Feature{Ordinal: 60, Label: "E:axxS3MSpeed"}
)

// effectByValue maps the primary 0..40 effect numbers to their feature,
// mirroring RTM_effect_usage's `fx` table. Index 14 (Extended) and 28
// (Extended IT) are handled specially in recordEffectUsage.
var effectByValue = [41]*common.Feature{
	&featArpeggio, &featPortaUp, &featPortaDown, &featTonePorta, &featVibrato,
	&featTonePortaVolslide, &featVibratoVolslide, &featTremolo, &featPan, &featOffset,
	&featVolslide, &featJump, &featVolume, &featBreak,
	nil, // 0x0e: Extended
	&featTempo, &featGlobalVolume, &featGlobalVolslide, &featI, &featJ,
	&featNoteCut, &featEnvelopePosition, &featMidiController, &featN, &featO,
	&featPanSlide, &featQ, &featMultiRetrig,
	nil, // 0x1c: Extended (IT)
	&featTremor, &featU, &featMidiControllerVal, &featW, &featExtraFinePorta,
	&featY, &featZ, &featS3mVolslide, &featS3mPortaUp, &featS3mPortaDown,
	&featS3mVibratoVolslide, &featS3mSpeed,
}

var extendedByNibble = [16]*common.Feature{
	&featEx0, &featExFinePortaUp, &featExFinePortaDown, &featExGlissando,
	&featExVibratoControl, &featExFinetune, &featExLoop, &featExTremoloControl,
	&featExPan, &featExRetrig, &featExFineVolUp, &featExFineVolDown,
	&featExNoteCut, &featExNoteDelay, &featExPatternDelay, &featExF,
}

// recordEffectUsage mirrors RTM_effect_usage: command 0x00 (arpeggio) only
// counts with a non-zero param, 0x0e dispatches on the high nibble of
// param to the extended sub-table, 0x1c splits into high-offset vs a
// generic bucket, and anything beyond the known range sets the overflow
// feature.
func recordEffectUsage(usage *common.Usage, effect, param uint8) {
	if int(effect) >= len(effectByValue) {
		usage.Set(FeatureEffectOver40)
		return
	}
	switch effect {
	case 0x00:
		if param != 0 {
			usage.Set(*effectByValue[effect])
		}
	case 0x0e:
		usage.Set(*extendedByNibble[param>>4])
	case 0x1c:
		if param>>4 == 0x0a {
			usage.Set(featExHighOffset)
		} else {
			usage.Set(featExSxy)
		}
	default:
		if f := effectByValue[effect]; f != nil {
			usage.Set(*f)
		}
	}
}

const (
	maxChannels = 32
	maxRows     = 999

	objHeaderSize = 42
)

const (
	headerLinearTable       = 1 << 0
	headerTrackNamesPresent = 1 << 1
)

// Per-cell flag byte bits (RTM_event in the loader).
const (
	evTrack      = 1 << 0
	evNote       = 1 << 1
	evInstrument = 1 << 2
	evCommand1   = 1 << 3
	evParam1     = 1 << 4
	evCommand2   = 1 << 5
	evParam2     = 1 << 6
)

type Handler struct {
	total int
}

func New() *Handler { return &Handler{} }

func (h *Handler) Name() string { return "Real Tracker" }
func (h *Handler) Tag() string  { return "RTM" }

// objectHeader mirrors RTM_object_header.load: a 42-byte shell shared by
// the song, pattern, instrument and sample records.
type objectHeader struct {
	id         string
	name       string
	version    uint16
	headerSize uint16
}

func readObjectHeader(reader *byteio.Reader, expectedID string, minimumSize int) (objectHeader, *registry.ParseError) {
	buf, err := reader.ReadBytes(objHeaderSize)
	if err != nil {
		return objectHeader{}, registry.NewReadError(err)
	}

	oh := objectHeader{
		id:         string(buf[0:4]),
		name:       strings.TrimRight(string(buf[5:37]), "\x00 "),
		version:    leU16(buf[38:40]),
		headerSize: leU16(buf[40:42]),
	}
	if oh.id != expectedID {
		return oh, registry.NewInvalid(fmt.Sprintf("expected %q object, found %q", expectedID, oh.id))
	}
	if int(oh.headerSize) < minimumSize {
		return oh, registry.NewUnsupportedVersion(fmt.Sprintf("%s header_size %d below minimum %d", expectedID, oh.headerSize, minimumSize))
	}
	return oh, nil
}

func (h *Handler) AcceptAndParse(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	peek, err := reader.CloneAt(0)
	if err != nil {
		return nil, registry.NewSeekError(err)
	}
	magic, err := peek.ReadBytes(4)
	if err != nil || string(magic) != "RTMM" {
		return nil, registry.NewNotRecognized("missing RTMM magic")
	}
	if err := reader.Seek(0); err != nil {
		return nil, registry.NewSeekError(err)
	}

	obj, perr := readObjectHeader(reader, "RTMM", 98)
	if perr != nil {
		return nil, perr
	}
	h.total++

	usage := common.NewUsage()

	buf := make([]byte, 130)
	readWanted := int(obj.headerSize)
	if readWanted > len(buf) {
		readWanted = len(buf)
	}
	got, err := reader.ReadBytes(readWanted)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	copy(buf, got)

	tracker := strings.TrimRight(string(buf[0:20]), "\x00 ")
	author := strings.TrimRight(string(buf[20:52]), "\x00 ")
	flags := leU16(buf[52:54])
	numChannels := buf[54]
	numInstruments := buf[55]
	numOrders := leU16(buf[56:58])
	numPatterns := leU16(buf[58:60])
	initialSpeed := buf[60]
	initialTempo := buf[61]
	initialPanning := buf[62:94]
	extraDataLength := leU32(buf[94:98])

	if int(numChannels) > maxChannels {
		return nil, registry.NewInvalid(fmt.Sprintf("invalid channel count %d", numChannels))
	}

	if int(obj.headerSize) > 130 {
		if err := reader.Skip(int(obj.headerSize) - 130); err != nil {
			return nil, registry.NewSeekError(err)
		}
	}

	orders := make([]uint16, numOrders)
	wantOrderBytes := int(numOrders) * 2
	available := int(reader.Length() - reader.Position())
	if available < wantOrderBytes {
		// A short read here only trims the order list; the header itself
		// already parsed cleanly, matching the loader's tolerant read loop
		// that zero-fills whatever wasn't actually on disk.
		wantOrderBytes = available
	}
	orderBytes, err := reader.ReadBytes(wantOrderBytes)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	for i := 0; i*2+1 < len(orderBytes); i++ {
		orders[i] = leU16(orderBytes[i*2 : i*2+2])
	}

	trackNames := make([]string, numChannels)
	if flags&headerTrackNamesPresent != 0 {
		for i := 0; i < int(numChannels); i++ {
			nb, err := reader.ReadBytes(16)
			if err != nil {
				break
			}
			trackNames[i] = strings.TrimRight(string(nb), "\x00 ")
		}
	}

	if flags&headerLinearTable != 0 {
		usage.Set(FeatureLinearTables)
	} else {
		usage.Set(FeatureAmigaTables)
	}
	if flags&headerTrackNamesPresent != 0 {
		usage.Set(FeatureTrackNames)
	}

	// The format documentation specifies this exact seek to resume reading
	// after the header, regardless of how much of extra_data_length we
	// actually consumed above.
	resumeOffset := int64(objHeaderSize) + int64(obj.headerSize) + int64(extraDataLength)
	if err := reader.Seek(resumeOffset); err != nil {
		return nil, registry.NewSeekError(err)
	}

	channelSettings := make([]common.ChannelSetting, numChannels)
	for i := range channelSettings {
		if flags&headerTrackNamesPresent != 0 {
			channelSettings[i].Name = trackNames[i]
		}
		channelSettings[i].InitialPan = panFromSigned(int8(initialPanning[i]))
	}

	patterns := make([]common.Pattern, 0, numPatterns)
	for i := 0; i < int(numPatterns); i++ {
		if reader.AtEnd() {
			break
		}
		pattern, perr := decodePattern(reader, &usage)
		if perr != nil {
			break
		}
		patterns = append(patterns, pattern)
	}

	instruments := make([]common.Instrument, 0, numInstruments)
	samples := make([]common.Sample, 0)
	for i := 0; i < int(numInstruments); i++ {
		if reader.AtEnd() {
			break
		}
		ins, insSamples, perr := decodeInstrument(reader)
		if perr != nil {
			break
		}
		ins.SampleIndex = len(samples)
		instruments = append(instruments, ins)
		samples = append(samples, insSamples...)
	}

	module := &common.Module{
		Source:          common.RtmSource,
		Tag:             "RTM",
		TrackerID:       fmt.Sprintf("RTMM %d.%02x", obj.version>>8, obj.version&0xff),
		Title:           obj.name,
		Message:         author,
		InitialSpeed:    int16(initialSpeed),
		InitialTempo:    int16(initialTempo),
		Channels:        int16(numChannels),
		ChannelSettings: channelSettings,
		Instruments:     instruments,
		Samples:         samples,
		Patterns:        patterns,
		Usage:           usage,
		Other:           map[string]any{"Tracker": tracker},
	}
	for _, o := range orders {
		module.Order = append(module.Order, int16(o))
		module.OrderKind = append(module.OrderKind, common.OrderNormal)
	}
	return module, nil
}

// decodePattern reads one RTND object and replays its flag-byte-driven
// packed cell stream. Unlike LIQ's track-major layout, RTM advances
// channel-then-row within a flat events[row*channels+channel] array, with
// an explicit NEXT_ROW opcode (byte value 0) ending a row early and an
// explicit TRACK bit letting a cell jump to an arbitrary channel.
func decodePattern(reader *byteio.Reader, usage *common.Usage) (common.Pattern, *registry.ParseError) {
	_, perr := readObjectHeader(reader, "RTND", 9)
	if perr != nil {
		return common.Pattern{}, perr
	}

	buf, err := reader.ReadBytes(9)
	if err != nil {
		return common.Pattern{}, registry.NewReadError(err)
	}
	numRows := int(leU16(buf[3:5]))
	patChannels := int(buf[2])
	dataSize := int(leU32(buf[5:9]))

	bound := numRows
	if bound > maxRows {
		bound = maxRows
	}
	cBound := patChannels
	if cBound > maxChannels {
		cBound = maxChannels
	}
	bound *= cBound * 8

	if numRows > maxRows || patChannels > maxChannels || dataSize > bound {
		// Attempt to skip to the next pattern, matching the loader's
		// best-effort recovery; this still aborts the whole file here
		// since this architecture has no partial-module fallback.
		reader.Skip(dataSize)
		return common.Pattern{}, registry.NewInvalid(fmt.Sprintf("invalid pattern data: rows=%d channels=%d size=%d", numRows, patChannels, dataSize))
	}

	body, err := reader.ReadBytes(dataSize)
	if err != nil {
		return common.Pattern{}, registry.NewReadError(err)
	}

	type rawEvent struct {
		note             uint8
		instrument       uint8
		command1, param1 uint8
		command2, param2 uint8
		hasCmd1, hasCmd2 bool
	}
	events := make([]rawEvent, patChannels*numRows)
	for i := range events {
		events[i].note = 0xff
	}
	var dummy rawEvent

	pos := 0
	row := 0
	chn := 0
	for pos < len(body) && row < numRows {
		v := body[pos]
		pos++
		if v == 0 {
			chn = 0
			row++
			continue
		}
		if v&evTrack != 0 && pos < len(body) {
			chn = int(body[pos])
			pos++
		}

		dest := &dummy
		if chn < patChannels {
			dest = &events[row*patChannels+chn]
		}

		if v&evNote != 0 && pos < len(body) {
			dest.note = body[pos]
			pos++
		}
		if v&evInstrument != 0 && pos < len(body) {
			dest.instrument = body[pos]
			pos++
		}
		if v&evCommand1 != 0 && pos < len(body) {
			dest.command1 = body[pos]
			dest.hasCmd1 = true
			pos++
		}
		if v&evParam1 != 0 && pos < len(body) {
			dest.param1 = body[pos]
			pos++
		}
		if v&evCommand2 != 0 && pos < len(body) {
			dest.command2 = body[pos]
			dest.hasCmd2 = true
			pos++
		}
		if v&evParam2 != 0 && pos < len(body) {
			dest.param2 = body[pos]
			pos++
		}

		chn++
	}

	builder := patternnorm.NewBuilder(numRows, patChannels, 0xff, 0, 0)
	for r := 0; r < numRows; r++ {
		for c := 0; c < patChannels; c++ {
			ev := events[r*patChannels+c]
			cell := patternnorm.RawCell{Note: int(ev.note), Instrument: int(ev.instrument)}
			if ev.hasCmd1 || ev.hasCmd2 {
				cell.Effects = []common.SecondaryEffect{
					{Effect: ev.command1, Param: ev.param1},
					{Effect: ev.command2, Param: ev.param2},
				}
			}
			recordEffectUsage(usage, ev.command1, ev.param1)
			recordEffectUsage(usage, ev.command2, ev.param2)
			builder.Set(r, c, cell)
		}
	}

	pattern, nerr := builder.Normalize(dataSize)
	if nerr != nil {
		return common.Pattern{}, nerr
	}
	return *pattern, nil
}

func decodeInstrument(reader *byteio.Reader) (common.Instrument, []common.Sample, *registry.ParseError) {
	obj, perr := readObjectHeader(reader, "RTIN", 0)
	if perr != nil {
		return common.Instrument{}, nil, perr
	}

	// An instrument body up to 341 bytes: num_samples, flags, a 120-entry
	// keymap, two embedded envelopes, vibrato/fadeout/MIDI fields. Only the
	// sample count, the two envelopes, fadeout and the MIDI channel/program
	// are decoded; the 120-byte keymap, the flags and the vibrato fields
	// are skipped.
	buf := make([]byte, 341)
	numToRead := int(obj.headerSize)
	if numToRead > len(buf) {
		numToRead = len(buf)
	}
	got, err := reader.ReadBytes(numToRead)
	if err != nil {
		return common.Instrument{}, nil, registry.NewReadError(err)
	}
	copy(buf, got)

	numSamples := buf[0]

	ins := common.Instrument{
		Kind: common.InstrumentSample,
		Envelopes: []common.Envelope{
			decodeEnvelope(buf, 123, common.EnvelopeTypeVolume),
			decodeEnvelope(buf, 225, common.EnvelopeTypePanning),
		},
		Fadeout:     int16(leU16(buf[331:333])),
		MidiChannel: int16(buf[334]),
		MidiProgram: int16(buf[335]),
	}

	samples := make([]common.Sample, 0, numSamples)
	for i := 0; i < int(numSamples); i++ {
		samp, perr := decodeSample(reader)
		if perr != nil {
			return ins, samples, perr
		}
		samples = append(samples, samp)
	}
	return ins, samples, nil
}

// Envelope flag bits, per RTM_envelope's ENVELOPE_ENABLED/SUSTAIN_ENABLED/
// LOOP_ENABLED enum (each is a bit position, not a mask value).
const (
	envFlagEnabled = 1 << 0
	envFlagSustain = 1 << 1
	envFlagLoop    = 1 << 2
)

func decodeEnvelope(buf []byte, pos int, kind common.EnvelopeType) common.Envelope {
	numPoints := int(buf[pos])
	flags := leU16(buf[pos+100 : pos+102])
	env := common.Envelope{
		Type:         kind,
		Enabled:      flags&envFlagEnabled != 0,
		Sustain:      flags&envFlagSustain != 0,
		Loop:         flags&envFlagLoop != 0,
		SustainStart: int16(buf[pos+97]),
		LoopStart:    int16(buf[pos+98]),
		LoopEnd:      int16(buf[pos+99]),
	}
	for i := 0; i < numPoints && i < 12; i++ {
		p := pos + 1 + i*8
		env.Nodes = append(env.Nodes, common.EnvelopeNode{
			X: int16(leS32(buf[p : p+4])),
			Y: int16(leS32(buf[p+4 : p+8])),
		})
	}
	return env
}

func decodeSample(reader *byteio.Reader) (common.Sample, *registry.ParseError) {
	obj, perr := readObjectHeader(reader, "RTSM", 0)
	if perr != nil {
		return common.Sample{}, perr
	}

	buf := make([]byte, 26)
	numToRead := int(obj.headerSize)
	if numToRead > len(buf) {
		numToRead = len(buf)
	}
	got, err := reader.ReadBytes(numToRead)
	if err != nil {
		return common.Sample{}, registry.NewReadError(err)
	}
	copy(buf, got)

	globalVolume := buf[2]
	defaultVolume := buf[3]
	lengthBytes := leU32(buf[4:8])
	loopMode := buf[8]
	loopStartBytes := leU32(buf[12:16])
	loopEndBytes := leU32(buf[16:20])
	baseFrequency := leU32(buf[20:24])
	defaultPanning := int8(buf[25])

	samp := common.Sample{
		Name:           obj.name,
		GlobalVolume:   int16(globalVolume),
		DefaultVolume:  int16(defaultVolume),
		DefaultPanning: panFromSigned(defaultPanning),
		Length:         int(lengthBytes),
		LoopStart:      int(loopStartBytes),
		LoopEnd:        int(loopEndBytes),
		C5:             int(baseFrequency),
	}
	if loopMode != 0 {
		samp.Loop = common.LoopForward
	}

	if err := reader.Skip(int(lengthBytes)); err != nil {
		return common.Sample{}, registry.NewSeekError(err)
	}
	return samp, nil
}

func (h *Handler) ReportGlobalStats(reporter report.Reporter) {
	if h.total == 0 {
		return
	}
	reporter.Line("Total Real Tracker", fmt.Sprintf("%d", h.total))
}

// panFromSigned rescales a -128..127 signed panning byte to the 0-64
// centered scale common.ChannelSetting/common.Sample use elsewhere; the
// loader prints initial_panning/default_panning as raw signed bytes and
// leaves the display scale to the consumer.
func panFromSigned(v int8) int16 { return int16((int(v) + 128) * 64 / 255) }

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leS32(b []byte) int32 { return int32(leU32(b)) }
