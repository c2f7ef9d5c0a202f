// trackdump
// Licensed under MIT

/*
Package liq handles Liquid Tracker modules: the full "Liquid Module:"
format and its earlier "NO" beta sibling. Grounded on original_source's
liq_load.cpp and liqno_load.cpp respectively; the two share a magic-based
dispatch inside one Handler, the same shape masi uses for its old/new PSM
split.
*/
package liq

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
	FeatureModeLiq        = common.Feature{Ordinal: 0, Label: "M:LIQ"}
	FeatureModeS3m        = common.Feature{Ordinal: 1, Label: "M:S3M"}
	FeatureCutOnLimit     = common.Feature{Ordinal: 2, Label: "M:CutOnLimit"}
	FeatureSampleSigned   = common.Feature{Ordinal: 3, Label: "S:+"}
	FeatureSampleUnsigned = common.Feature{Ordinal: 4, Label: "S:U"}
	FeatureSample16Bit    = common.Feature{Ordinal: 5, Label: "S:16"}
	FeatureSampleStereo   = common.Feature{Ordinal: 6, Label: "S:Stereo"}
	FeatureOctave89       = common.Feature{Ordinal: 7, Label: "N:Oct8-9"}
)

const (
	maxLiqChannels    = 256
	maxLiqPatterns    = 256
	maxLiqInstruments = 255
)

// LIQ_header_flags.
const (
	liqCutOnLimit = 1 << 0
	liqST3Compat  = 1 << 1
)

// LIQ_sample_flags.
const (
	liqSample16Bit  = 1 << 0
	liqSampleStereo = 1 << 1
	liqSampleSigned = 1 << 2
)

const (
	noMaxInstruments = 63
	noMaxRows        = 64
)

type Handler struct {
	totalLiq int
	totalNo  int
}

func New() *Handler { return &Handler{} }

func (h *Handler) Name() string { return "Liquid Tracker" }
func (h *Handler) Tag() string  { return "LIQ" }

func (h *Handler) AcceptAndParse(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	head, err := reader.ReadBytes(4)
	if err == nil && string(head) == "NO\x00\x00" {
		return h.parseNo(reader)
	}

	if err := reader.Seek(0); err != nil {
		return nil, registry.NewSeekError(err)
	}
	magic, err := reader.ReadBytes(14)
	if err != nil || string(magic) != "Liquid Module:" {
		return nil, registry.NewNotRecognized("missing Liquid Module magic")
	}
	return h.parseLiq(reader)
}

// parseLiq reads the fixed 109-byte header (magic included), the
// per-channel pan/volume and order tables, the optional 1.01+ echo/POOL
// block and 1.02+ amplification field, then the pattern and instrument
// arrays. Oversized channel/pattern/instrument counts are fatal here,
// unlike the reference loader's "warn and stop parsing the body" behavior
// -- this codebase has no print-partial-results path to fall back to, so
// the same condition is promoted to a ParseError for consistency with
// every other handler.
func (h *Handler) parseLiq(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	usage := common.NewUsage()

	buf, err := reader.ReadBytes(109 - 14)
	if err != nil {
		return nil, registry.NewReadError(err)
	}

	name := strings.TrimRight(string(buf[0:30]), "\x00 ")
	author := strings.TrimRight(string(buf[30:50]), "\x00 ")
	trackerName := strings.TrimRight(string(buf[51:71]), "\x00 ")
	formatVersion := leU16(buf[71:73])
	initialSpeed := leU16(buf[73:75])
	initialBpm := leU16(buf[75:77])
	lowestNote := leU16(buf[77:79])
	highestNote := leU16(buf[79:81])
	numChannels := leU16(buf[81:83])
	flags := leU32(buf[83:87])
	numPatterns := leU16(buf[87:89])
	numInstruments := leU16(buf[89:91])

	var numOrders, headerBytes uint16
	if formatVersion >= 0x100 {
		numOrders = leU16(buf[91:93])
		headerBytes = leU16(buf[93:95])
	} else {
		headerBytes = leU16(buf[91:93])
		if err := reader.Skip(3); err != nil {
			return nil, registry.NewReadError(err)
		}
	}

	if flags&liqCutOnLimit != 0 {
		usage.Set(FeatureCutOnLimit)
	}
	if flags&liqST3Compat != 0 {
		usage.Set(FeatureModeS3m)
	} else {
		usage.Set(FeatureModeLiq)
	}

	if int(numChannels) > maxLiqChannels {
		return nil, registry.NewInvalid(fmt.Sprintf("invalid channel count %d", numChannels))
	}
	if int(numPatterns) > maxLiqPatterns {
		return nil, registry.NewTooManyPatterns(fmt.Sprintf("invalid pattern count %d", numPatterns))
	}
	if int(numInstruments) > maxLiqInstruments {
		return nil, registry.NewTooManyInstruments(fmt.Sprintf("invalid instrument count %d", numInstruments))
	}

	numChannelsToLoad := int(numChannels)
	numOrdersToLoad := int(numOrders)
	if formatVersion < 0x100 {
		numChannelsToLoad = 64
		numOrdersToLoad = 256
	}

	pan, err := reader.ReadBytes(numChannelsToLoad)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	vol, err := reader.ReadBytes(numChannelsToLoad)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	orders, err := reader.ReadBytes(numOrdersToLoad)
	if err != nil {
		return nil, registry.NewReadError(err)
	}

	if formatVersion < 0x100 {
		n := len(orders)
		for i, o := range orders {
			if o == 0xff {
				n = i
				break
			}
		}
		orders = orders[:n]
	} else {
		orders = orders[:numOrders]
	}

	channelSettings := make([]common.ChannelSetting, numChannelsToLoad)
	for i := range channelSettings {
		channelSettings[i].InitialPan = int16(pan[i])
		channelSettings[i].InitialVolume = int16(vol[i])
	}

	module := &common.Module{
		Source:       common.LiqSource,
		Tag:          "LIQ",
		TrackerID:    fmt.Sprintf("Liquid Tracker %d.%02x", formatVersion>>8, formatVersion&0xff),
		Title:        name,
		InitialSpeed: int16(initialSpeed),
		InitialTempo: int16(initialBpm),
		Channels:     int16(numChannels),
		ChannelSettings: channelSettings,
		Other: map[string]any{
			"Author":      author,
			"Tracker":     trackerName,
			"LowestNote":  int(lowestNote),
			"HighestNote": int(highestNote),
		},
	}

	if perr := h.readLiqHeaderTail(reader, module, formatVersion, headerBytes, numChannels); perr != nil {
		return nil, perr
	}

	patterns := make([]common.Pattern, numPatterns)
	for i := 0; i < int(numPatterns); i++ {
		pattern, perr := decodeLiqPattern(reader, numChannels, &usage)
		if perr != nil {
			return nil, perr
		}
		patterns[i] = pattern
	}
	module.Patterns = patterns

	samples := make([]common.Sample, numInstruments)
	for i := 0; i < int(numInstruments); i++ {
		samp, sflags, present, perr := decodeLiqInstrument(reader)
		if perr != nil {
			return nil, perr
		}
		if present && samp.Length > 0 {
			if sflags&liqSample16Bit != 0 {
				usage.Set(FeatureSample16Bit)
			}
			if sflags&liqSampleStereo != 0 {
				usage.Set(FeatureSampleStereo)
			}
			if sflags&liqSampleSigned != 0 {
				usage.Set(FeatureSampleSigned)
			} else {
				usage.Set(FeatureSampleUnsigned)
			}
		}
		samples[i] = samp
	}
	module.Samples = samples
	module.Usage = usage

	for _, o := range orders {
		module.Order = append(module.Order, int16(o))
		if o == 0xff {
			module.OrderKind = append(module.OrderKind, common.OrderEndOfSong)
		} else {
			module.OrderKind = append(module.OrderKind, common.OrderNormal)
		}
	}

	h.totalLiq++
	return module, nil
}

// readLiqHeaderTail consumes the version-gated echo/POOL block and the
// 1.02+ amplification word, skipping whatever header_bytes still claims
// once neither applies. Echo pool contents aren't modeled in common.Module
// (no reverb/echo concept exists there); only presence and pool count are
// recorded for the reporter.
func (h *Handler) readLiqHeaderTail(
	reader *byteio.Reader, module *common.Module,
	formatVersion, headerBytes, numChannels uint16,
) *registry.ParseError {
	basePos := int(reader.Position())
	headerRemaining := 0
	if basePos <= int(headerBytes) {
		headerRemaining = int(headerBytes) - basePos
	}
	if headerRemaining > 0 && headerRemaining < 4 {
		headerRemaining = 0
	}

	if formatVersion >= 0x101 && headerRemaining >= 4 {
		echoMagic, err := reader.ReadBytes(4)
		if err != nil {
			return registry.NewReadError(err)
		}
		headerRemaining -= 4

		if string(echoMagic) == "POOL" && headerRemaining >= 4+4*int(numChannels) {
			if err := reader.Skip(4 * int(numChannels)); err != nil {
				return registry.NewReadError(err)
			}
			headerRemaining -= 4 * int(numChannels)

			poolCountBuf, err := reader.ReadBytes(4)
			if err != nil {
				return registry.NewReadError(err)
			}
			headerRemaining -= 4
			numPools := leU32(poolCountBuf)

			if numPools > 0 && headerRemaining >= int(numPools)*20 {
				if err := reader.Skip(int(numPools) * 20); err != nil {
					return registry.NewReadError(err)
				}
				headerRemaining -= int(numPools) * 20
				module.Other["EchoPools"] = int(numPools)
			} else {
				headerRemaining = 0
			}
		} else {
			headerRemaining = 0
		}
	}

	if formatVersion >= 0x102 && headerRemaining >= 2 {
		ampBuf, err := reader.ReadBytes(2)
		if err != nil {
			return registry.NewReadError(err)
		}
		headerRemaining -= 2
		module.Other["Amplification"] = int(leU16(ampBuf))
	}

	if headerRemaining > 0 {
		if err := reader.Skip(headerRemaining); err != nil {
			return registry.NewReadError(err)
		}
	}
	return nil
}

// liqCell is one decoded LIQ pattern event, fields already shifted +1 so
// 0 means "none" throughout, matching the reference loader's note that the
// formatter expects 0 for empty instead of the on-disk -1.
type liqCell struct {
	note, instrument, volume, effect, param uint8
	hasEffect                                bool
}

var liqUnpackCounts = [32]int{
	0, 1, 1, 2, 1, 2, 2, 3,
	1, 2, 2, 3, 2, 3, 3, 4,
	1, 2, 2, 3, 2, 3, 3, 4,
	2, 3, 3, 4, 3, 4, 4, 5,
}

func fixLiqEffect(b byte) uint8 {
	if b != 0xff {
		return b - 0x40
	}
	return 0
}

func unpackLiqEvent(data []byte, pos int, mask byte) (liqCell, int) {
	num := liqUnpackCounts[mask&31]
	if len(data)-pos < num {
		return liqCell{}, 0
	}
	var c liqCell
	p := pos
	if mask&1 != 0 {
		c.note = data[p] + 1
		p++
	}
	if mask&2 != 0 {
		c.instrument = data[p] + 1
		p++
	}
	if mask&4 != 0 {
		c.volume = data[p] + 1
		p++
	}
	if mask&8 != 0 {
		c.effect = fixLiqEffect(data[p])
		c.hasEffect = true
		p++
	}
	if mask&16 != 0 {
		c.param = data[p]
		p++
	}
	return c, num
}

func loadLiqEvent(data []byte, pos int) (liqCell, int) {
	if len(data)-pos < 5 {
		return liqCell{}, 0
	}
	return liqCell{
		note:       data[pos] + 1,
		instrument: data[pos+1] + 1,
		volume:     data[pos+2] + 1,
		effect:     fixLiqEffect(data[pos+3]),
		param:      data[pos+4],
		hasEffect:  true,
	}, 5
}

// decodeLiqPattern reads one "LP\0\0" (or "!!!!" empty) pattern and
// replays its track-major packed opcode stream. Events land in a flat
// track*num_rows+row array exactly as the reference loader stores them,
// then get transposed into the row-major grid patternnorm expects via
// SetColumnMajor. Note is carried through a parallel array rather than
// RawCell.Note: patternnorm's empty-note rule treats any 0xff note as
// empty unconditionally, which would wrongly erase LIQ's note-off code
// (0xff after the +1 shift).
func decodeLiqPattern(reader *byteio.Reader, numChannels uint16, usage *common.Usage) (common.Pattern, *registry.ParseError) {
	magic, err := reader.ReadBytes(4)
	if err != nil {
		return common.Pattern{}, registry.NewReadError(err)
	}
	if string(magic) == "!!!!" {
		return common.Pattern{}, nil
	}

	rest, err := reader.ReadBytes(40)
	if err != nil {
		return common.Pattern{}, registry.NewReadError(err)
	}
	numRows := int(leU16(rest[30:32]))
	packedBytes := leU32(rest[32:36])

	if numRows == 0 || numChannels == 0 {
		return common.Pattern{Rows: numRows, Channels: int(numChannels)}, nil
	}

	body, err := reader.ReadBytes(int(packedBytes))
	if err != nil {
		return common.Pattern{}, registry.NewReadError(err)
	}

	numEvents := numRows * int(numChannels)
	cells := make([]liqCell, numEvents)

	idx := 0
	pos := 0
	for pos < len(body) {
		value := body[pos]
		pos++

		switch {
		case value == 0xc0:
			pos = len(body)

		case value == 0xa0:
			chn := idx/numRows + 1
			if chn >= int(numChannels) {
				pos = len(body)
				break
			}
			idx = chn * numRows

		case value == 0xe0:
			if len(body)-pos < 1 {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: truncated skip-notes opcode")
			}
			idx += int(body[pos]) + 1
			pos++

		case value == 0x80:
			idx++

		case value == 0xe1:
			if len(body)-pos < 1 {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: truncated skip-tracks opcode")
			}
			chn := idx/numRows + int(body[pos]) + 1
			pos++
			if chn >= int(numChannels) {
				pos = len(body)
				break
			}
			idx = chn * numRows

		case value > 0xc0 && value < 0xe0:
			c, n := unpackLiqEvent(body, pos, value)
			if n == 0 || idx >= numEvents {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: bad packed event")
			}
			cells[idx] = c
			idx++
			pos += n

		case value > 0xa0 && value < 0xc0:
			if len(body)-pos < 1 {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: truncated packed-run count")
			}
			count := int(body[pos]) + 1
			pos++
			for count > 0 {
				c, n := unpackLiqEvent(body, pos, value)
				if n == 0 || idx >= numEvents {
					return common.Pattern{}, registry.NewBadPacking("liq pattern: bad packed event run")
				}
				cells[idx] = c
				idx++
				pos += n
				count--
			}

		case value > 0x80 && value < 0xa0:
			if len(body)-pos < 1 {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: truncated rle count")
			}
			count := int(body[pos]) + 1
			pos++
			c, n := unpackLiqEvent(body, pos, value)
			if n == 0 || idx+count > numEvents {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: bad rle event")
			}
			pos += n
			for count > 0 {
				cells[idx] = c
				idx++
				count--
			}

		default:
			c, n := loadLiqEvent(body, pos-1)
			if n == 0 || idx >= numEvents {
				return common.Pattern{}, registry.NewBadPacking("liq pattern: bad unpacked event")
			}
			cells[idx] = c
			idx++
			pos += n - 1
		}
	}

	grid := make([]uint8, numEvents)
	builder := patternnorm.NewBuilder(numRows, int(numChannels), 0, 0, 0)
	for track := 0; track < int(numChannels); track++ {
		for lr := 0; lr < numRows; lr++ {
			c := cells[track*numRows+lr]
			raw := patternnorm.RawCell{Instrument: int(c.instrument)}
			if c.volume != 0 {
				raw.VolumeCmd = 1
				raw.VolumeParm = int(c.volume)
			}
			if c.hasEffect {
				raw.Effects = []common.SecondaryEffect{{Effect: c.effect, Param: c.param}}
			}
			builder.SetColumnMajor(lr, track, raw)

			flat := lr*int(numChannels) + track
			grid[flat] = c.note
			if c.note != 0 && c.note != 0xff && int((c.note-1)/12) >= 8 {
				usage.Set(FeatureOctave89)
			}
		}
	}

	pattern, perr := builder.Normalize(int(packedBytes))
	if perr != nil {
		return common.Pattern{}, perr
	}
	for i := range pattern.Events {
		pattern.Events[i].Note = grid[i]
	}
	return *pattern, nil
}

// decodeLiqInstrument reads one "LDSS" (or "????" blank) sample header and
// skips the PCM payload that trails it.
func decodeLiqInstrument(reader *byteio.Reader) (common.Sample, byte, bool, *registry.ParseError) {
	magic, err := reader.ReadBytes(4)
	if err != nil {
		return common.Sample{}, 0, false, registry.NewReadError(err)
	}
	if string(magic) == "????" {
		return common.Sample{}, 0, false, nil
	}

	rest, err := reader.ReadBytes(140)
	if err != nil {
		return common.Sample{}, 0, false, registry.NewReadError(err)
	}

	name := strings.TrimRight(string(rest[2:32]), "\x00 ")
	length := leU32(rest[73:77])
	loopStart := leU32(rest[77:81])
	loopEnd := leU32(rest[81:85])
	rate := leU32(rest[85:89])
	defaultVolume := rest[89]
	flags := rest[90]
	defaultPan := rest[91]
	globalVolume := rest[93]
	loopType := int8(rest[104])
	filename := strings.TrimRight(string(rest[115:140]), "\x00 ")

	samp := common.Sample{
		Name:          name,
		DosFilename:   filename,
		Length:        int(length),
		LoopStart:     int(loopStart),
		LoopEnd:       int(loopEnd),
		C5:            int(rate),
		DefaultVolume: int16(defaultVolume),
		GlobalVolume:  int16(globalVolume),
		S16:           flags&liqSample16Bit != 0,
		Stereo:        flags&liqSampleStereo != 0,
	}
	if loopEnd != 0 {
		if loopType > 0 {
			samp.Loop = common.LoopPingPong
		} else {
			samp.Loop = common.LoopForward
		}
	}
	switch {
	case defaultPan == 255:
		// disabled, leave DefaultPanning at center.
	case defaultPan <= 64:
		samp.DefaultPanning = int16(defaultPan)
	default:
		// 66 = surround, no matching field on common.Sample.
		samp.DefaultPanning = 32
	}

	if length > 0 {
		if err := reader.Skip(int(length)); err != nil {
			return samp, flags, true, registry.NewSeekError(err)
		}
	}
	return samp, flags, true, nil
}

// parseNo handles the earlier Liquid Tracker beta format: a fixed 43-byte
// header, a 256-byte order table, always exactly 63 instrument slots, and
// always-64-row patterns packed as one uint32 per cell, row-major. Unlike
// LIQ proper, its reference loader carries no real feature table (a single
// placeholder "FIXME" entry), so no Usage flags are set here.
func (h *Handler) parseNo(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	buf, err := reader.ReadBytes(43 - 4)
	if err != nil {
		return nil, registry.NewReadError(err)
	}

	nameLength := int(buf[0])
	if nameLength > 29 {
		nameLength = 29
	}
	name := strings.TrimRight(string(buf[1:1+nameLength]), "\x00 ")
	numPatterns := int(buf[30])
	numChannels := int(buf[32])

	orderBytes, err := reader.ReadBytes(256)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	numOrders := 256
	for i, o := range orderBytes {
		if o == 0xff {
			numOrders = i
			break
		}
	}
	orders := orderBytes[:numOrders]

	samples := make([]common.Sample, noMaxInstruments)
	for i := 0; i < noMaxInstruments; i++ {
		ib, err := reader.ReadBytes(46)
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		insNameLength := int(ib[0])
		if insNameLength > 30 {
			insNameLength = 30
		}
		insName := strings.TrimRight(string(ib[1:1+insNameLength]), "\x00 ")
		defaultVolume := ib[31]
		rate := leU16(ib[32:34])
		length := leU32(ib[34:38])
		loopStart := leU32(ib[38:42])
		loopLength := leU32(ib[42:46])

		samp := common.Sample{
			Name:          insName,
			DefaultVolume: int16(defaultVolume),
			C5:            int(rate),
			Length:        int(length),
			LoopStart:     int(loopStart),
		}
		if loopLength > 0 {
			samp.Loop = common.LoopForward
			samp.LoopEnd = int(loopStart) + int(loopLength)
		}
		samples[i] = samp
	}

	patSize := numChannels * noMaxRows * 4
	patterns := make([]common.Pattern, numPatterns)
	for i := 0; i < numPatterns; i++ {
		body, err := reader.ReadBytes(patSize)
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		patterns[i] = decodeNoPattern(body, numChannels)
	}

	h.totalNo++

	module := &common.Module{
		Source:    common.LiqSource,
		Tag:       "NO",
		TrackerID: "Liquid Tracker beta",
		Title:     name,
		Channels:  int16(numChannels),
		Samples:   samples,
		Patterns:  patterns,
		Usage:     common.NewUsage(),
	}
	for _, o := range orders {
		module.Order = append(module.Order, int16(o))
		module.OrderKind = append(module.OrderKind, common.OrderNormal)
	}
	return module, nil
}

// decodeNoPattern unpacks one flat numChannels*64*4 byte blob, row-major,
// into a normalized pattern.
func decodeNoPattern(body []byte, numChannels int) common.Pattern {
	builder := patternnorm.NewBuilder(noMaxRows, numChannels, 0, 0, 0)
	grid := make([]uint8, noMaxRows*numChannels)

	pos := 0
	for row := 0; row < noMaxRows; row++ {
		for ch := 0; ch < numChannels; ch++ {
			pack := leU32(body[pos : pos+4])
			pos += 4

			note := uint8(((pack >> 0) + 1) & 0x3f)
			instrument := uint8(((pack >> 6) + 1) & 0x7f)
			volume := uint8(((pack >> 13) + 1) & 0x7f)
			effect := uint8(((pack >> 20) + 1) & 0x0f)
			param := uint8(pack >> 24)

			raw := patternnorm.RawCell{Instrument: int(instrument)}
			if volume != 0 {
				raw.VolumeCmd = 1
				raw.VolumeParm = int(volume)
			}
			if effect != 0 || param != 0 {
				raw.Effects = []common.SecondaryEffect{{Effect: effect, Param: param}}
			}
			builder.Set(row, ch, raw)
			grid[row*numChannels+ch] = note
		}
	}

	pattern, _ := builder.Normalize(len(body))
	for i := range pattern.Events {
		pattern.Events[i].Note = grid[i]
	}
	return *pattern
}

func (h *Handler) ReportGlobalStats(reporter report.Reporter) {
	if h.totalLiq > 0 {
		reporter.Line("Total Liquid (LIQ)", fmt.Sprintf("%d", h.totalLiq))
	}
	if h.totalNo > 0 {
		reporter.Line("Total Liquid (NO)", fmt.Sprintf("%d", h.totalNo))
	}
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
