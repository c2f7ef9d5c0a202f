// trackdump
// Licensed under MIT

/*
Package s3m handles Scream Tracker 3 modules: the SCRM magic at offset 44,
16-byte-paragraph parapointers, the WTF-endian 24-bit sample segment
pointer, AdLib vs PCM instrument typing, and cwtv-based tracker
fingerprinting including the BeRoTracker and ModPlug special cases.
Grounded on original_source/src/s3m_load.cpp.
*/
package s3m

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
	FeatureOver255Instruments = common.Feature{Ordinal: 0, Label: "I>255"}
	FeatureOver256Patterns    = common.Feature{Ordinal: 1, Label: "P>256"}
	FeatureOver256Orders      = common.Feature{Ordinal: 2, Label: "O>256"}
	FeatureAdLib              = common.Feature{Ordinal: 3, Label: "AdLib"}
	FeatureAdLibChannels      = common.Feature{Ordinal: 4, Label: "AdLib(C)"}
	FeatureAdLibInstruments   = common.Feature{Ordinal: 5, Label: "AdLib(I)"}
	FeatureGpUnknown          = common.Feature{Ordinal: 6, Label: "Gp:?"}
	FeatureGpSoundBlaster     = common.Feature{Ordinal: 7, Label: "Gp:SB"}
	FeatureGpGravisUltrasound = common.Feature{Ordinal: 8, Label: "Gp:GUS"}
	FeatureSampleSegmentHi    = common.Feature{Ordinal: 9, Label: "S:HiSeg"}
	FeatureSampleStereo       = common.Feature{Ordinal: 10, Label: "S:Stereo"}
	FeatureSample16           = common.Feature{Ordinal: 11, Label: "S:16"}
	FeatureSampleADPCM        = common.Feature{Ordinal: 12, Label: "S:ADPCM"}
)

const maxChannels = 32

var trackerNames = [16]string{
	"?", "Scrm", "Orpheus", "IT", "Schism", "OpenMPT", "BeRo",
	"?", "?", "?", "?", "?", "?", "?", "?", "?",
}

const (
	instUnused = 0
	instSample = 1
	instAdLib  = 2 // 2..7 are AdLib drum-kit variants
)

type Handler struct {
	total int
}

func New() *Handler { return &Handler{} }

func (h *Handler) Name() string { return "Scream Tracker 3" }
func (h *Handler) Tag() string  { return "S3M" }

type instrument struct {
	kind        int
	filename    string
	name        string
	segment3    [3]byte
	length      uint32
	loopStart   uint32
	loopEnd     uint32
	defaultVol  uint8
	packing     uint8
	flags       uint8
	c2speed     uint32
	intGp       uint16
	operators   [12]byte
	isADLibInst bool
}

func (h *Handler) AcceptAndParse(reader *byteio.Reader) (*common.Module, *registry.ParseError) {
	if !reader.InBounds(reader.Position(), 96) {
		return nil, registry.NewNotRecognized("file too short for an S3M header")
	}
	start := reader.Position()

	header, err := reader.ReadBytes(96)
	if err != nil {
		return nil, registry.NewNotRecognized("short read of S3M header")
	}
	if string(header[44:48]) != "SCRM" {
		return nil, registry.NewNotRecognized("missing SCRM magic at offset 44")
	}

	name := strings.TrimRight(string(header[0:28]), "\x00 ")
	numOrders := int(leU16(header[32:34]))
	numInstruments := int(leU16(header[34:36]))
	numPatterns := int(leU16(header[36:38]))
	cwtv := leU16(header[40:42])
	ffi := leU16(header[42:44])
	globalVolume := header[48]
	initialSpeed := header[49]
	initialTempo := header[50]
	hasPanningTable := header[53]
	channelSettings := header[64:96]

	usage := common.NewUsage()
	if numInstruments > 255 {
		usage.Set(FeatureOver255Instruments)
	}
	if numPatterns > 256 {
		usage.Set(FeatureOver256Patterns)
	}
	if numOrders > 256 {
		usage.Set(FeatureOver256Orders)
	}

	orders, err := reader.ReadBytes(numOrders)
	if err != nil {
		return nil, registry.NewReadError(err)
	}
	ordersCopy := append([]byte(nil), orders...)

	instrumentSegments := make([]uint16, numInstruments)
	for i := range instrumentSegments {
		v, err := reader.ReadU16LE()
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		instrumentSegments[i] = v
	}

	patternSegments := make([]uint16, numPatterns)
	for i := range patternSegments {
		v, err := reader.ReadU16LE()
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		patternSegments[i] = v
	}

	if hasPanningTable == 252 {
		if _, err := reader.ReadBytes(maxChannels); err != nil {
			return nil, registry.NewReadError(err)
		}
	}

	numChannels := 0
	maxChannel := 0
	adlibChannels := false
	for i := 0; i < maxChannels; i++ {
		if channelSettings[i]&0x80 == 0 {
			numChannels++
			maxChannel = i + 1
			if channelSettings[i]&0x7f >= 16 {
				adlibChannels = true
			}
		}
	}

	trackerString := trackerNames[cwtv>>12]
	if cwtv == 0x4100 {
		trackerString = "BeRo"
	}

	instruments := make([]instrument, numInstruments)
	intgpMin, intgpMax := 65536, 0
	numSamples, numADLib := 0, 0
	var warnings []string

	for i, seg := range instrumentSegments {
		if seg == 0 {
			continue
		}
		if err := reader.Seek(start + int64(seg)<<4); err != nil {
			return nil, registry.NewSeekError(err)
		}
		rec, err := reader.ReadBytes(80)
		if err != nil {
			return nil, registry.NewReadError(err)
		}

		kind := int(rec[0])
		magic := string(rec[76:80])

		var ins instrument
		ins.kind = kind

		switch {
		case kind == instUnused:
			numSamples++
		case kind == instSample && magic == "SCRS":
			numSamples++
		case kind >= instAdLib && magic == "SCRI":
			numADLib++
			ins.isADLibInst = true
			copy(ins.operators[:], rec[16:28])
		default:
			continue
		}

		ins.filename = strings.TrimRight(string(rec[1:13]), "\x00 ")
		copy(ins.segment3[:], rec[13:16])
		ins.length = leU32(rec[16:20])
		ins.loopStart = leU32(rec[20:24])
		ins.loopEnd = leU32(rec[24:28])
		ins.defaultVol = rec[28]
		ins.packing = rec[30]
		ins.flags = rec[31]
		ins.c2speed = leU32(rec[32:36])
		ins.intGp = leU16(rec[40:42])
		ins.name = strings.TrimRight(string(rec[48:76]), "\x00 ")

		if kind == instSample && ins.length > 0 {
			if int(ins.intGp) < intgpMin {
				intgpMin = int(ins.intGp)
			}
			if int(ins.intGp) > intgpMax {
				intgpMax = int(ins.intGp)
			}
			if ins.flags&0x02 != 0 {
				usage.Set(FeatureSampleStereo)
			}
			if ins.flags&0x04 != 0 {
				usage.Set(FeatureSample16)
			}
			if ins.packing == 4 {
				usage.Set(FeatureSampleADPCM)
			}
			if ins.segment3[0] != 0 {
				usage.Set(FeatureSampleSegmentHi)
			}
			if cwtv == 0x1320 && (ins.packing == 4 || ins.intGp == 0) {
				trackerString = "Modplug"
			}

			sampleOffset := int64(sampleSegment(ins.segment3)) << 4
			if !reader.InBounds(sampleOffset, int64(ins.length)) {
				warnings = append(warnings, fmt.Sprintf("instrument %d: sample segment points outside the file", i))
			}
		}
		instruments[i] = ins
	}

	if trackerString == "Scrm" && numSamples > 0 {
		switch {
		case intgpMin >= 1:
			if intgpMax == 1 {
				usage.Set(FeatureGpSoundBlaster)
			} else {
				usage.Set(FeatureGpGravisUltrasound)
			}
		case cwtv == 0x1300:
			usage.Set(FeatureGpSoundBlaster)
		default:
			usage.Set(FeatureGpUnknown)
		}
	}

	switch {
	case adlibChannels && numADLib > 0:
		usage.Set(FeatureAdLib)
	case numADLib > 0:
		usage.Set(FeatureAdLibInstruments)
	case adlibChannels:
		usage.Set(FeatureAdLibChannels)
	}

	patterns := make([]common.Pattern, numPatterns)
	for i, seg := range patternSegments {
		if seg == 0 {
			patterns[i] = common.Pattern{Rows: 64, Channels: maxChannels, Events: make([]common.Event, 64*maxChannels)}
			continue
		}
		if err := reader.Seek(start + int64(seg)<<4); err != nil {
			return nil, registry.NewSeekError(err)
		}
		packedSize, err := reader.ReadU16LE()
		if err != nil {
			return nil, registry.NewReadError(err)
		}
		builder := patternnorm.NewBuilder(64, maxChannels, 0, 0, 0)
		if packedSize == 0 {
			pattern, _ := builder.Normalize(0)
			patterns[i] = *pattern
			continue
		}
		raw, err := reader.ReadBytes(int(packedSize))
		if err != nil {
			return nil, registry.NewReadError(err)
		}

		pos := 0
		row := 0
		for pos < len(raw) && row < 64 {
			flg := raw[pos]
			pos++
			if flg == 0 {
				row++
				continue
			}
			chn := int(flg & 0x1f)
			cell := patternnorm.RawCell{Note: 0, Instrument: 0, VolumeParm: 0}
			if flg&0x20 != 0 {
				if pos < len(raw) {
					cell.Note = int(raw[pos])
				}
				if pos+1 < len(raw) {
					cell.Instrument = int(raw[pos+1])
				}
				pos += 2
			}
			if flg&0x40 != 0 {
				if pos < len(raw) {
					cell.VolumeParm = int(raw[pos])
				}
				pos++
			}
			if flg&0x80 != 0 {
				var effect, param uint8
				if pos < len(raw) {
					effect = raw[pos]
				}
				if pos+1 < len(raw) {
					param = raw[pos+1]
				}
				cell.Effects = []common.SecondaryEffect{{Effect: effect, Param: param}}
				pos += 2
			}
			if chn < maxChannels {
				builder.Set(row, chn, cell)
			}
			if pos > len(raw) {
				break
			}
		}
		pattern, nerr := builder.Normalize(int(packedSize))
		if nerr != nil {
			return nil, nerr
		}
		patterns[i] = *pattern
	}

	module := &common.Module{
		Source:          common.S3mSource,
		Tag:             "SCRM",
		TrackerID:       fmt.Sprintf("%s (v%d, cwtv %d.%02x)", trackerString, ffi, cwtv>>12, cwtv&0xff),
		Title:           name,
		GlobalVolume:    int16(globalVolume),
		InitialSpeed:    int16(initialSpeed),
		InitialTempo:    int16(initialTempo),
		Channels:        int16(maxChannel),
		Order:           make([]int16, len(ordersCopy)),
		OrderKind:       make([]common.OrderEntryKind, len(ordersCopy)),
		Patterns:        patterns,
		ChannelSettings: make([]common.ChannelSetting, maxChannels),
		Usage:           usage,
		Warnings:        warnings,
		Other: map[string]any{
			"NumSamples": numSamples,
			"NumAdLib":   numADLib,
		},
	}

	for i, o := range ordersCopy {
		module.Order[i] = int16(o)
		switch {
		case o == 255:
			module.OrderKind[i] = common.OrderEndOfSong
		case o == 254:
			module.OrderKind[i] = common.OrderSkip
		default:
			module.OrderKind[i] = common.OrderNormal
		}
	}
	for i := 0; i < maxChannels; i++ {
		module.ChannelSettings[i] = common.ChannelSetting{
			Mute: channelSettings[i]&0x80 != 0,
		}
	}

	module.Instruments = make([]common.Instrument, len(instruments))
	module.Samples = make([]common.Sample, len(instruments))
	for i, ins := range instruments {
		kind := common.InstrumentSample
		if ins.isADLibInst {
			kind = common.InstrumentAdLib
		}
		module.Instruments[i] = common.Instrument{
			Kind:         kind,
			Name:         ins.name,
			DosFilename:  ins.filename,
			GlobalVolume: int16(ins.defaultVol),
			SampleIndex:  i,
		}
		if ins.isADLibInst {
			module.Instruments[i].AdLib = &common.AdLibOperators{Operators: ins.operators}
		}
		loop := common.LoopNone
		if ins.flags&0x01 != 0 {
			loop = common.LoopForward
		}
		module.Samples[i] = common.Sample{
			Name:           ins.name,
			DosFilename:    ins.filename,
			DefaultVolume:  int16(ins.defaultVol),
			Length:         int(ins.length),
			LoopStart:      int(ins.loopStart),
			LoopEnd:        int(ins.loopEnd),
			Loop:           loop,
			C5:             int(ins.c2speed),
			S16:            ins.flags&0x04 != 0,
			Stereo:         ins.flags&0x02 != 0,
		}
	}

	h.total++
	return module, nil
}

func (h *Handler) ReportGlobalStats(reporter report.Reporter) {
	if h.total == 0 {
		return
	}
	reporter.Line("Total S3Ms", fmt.Sprintf("%d", h.total))
}

// sampleSegment decodes the 24-bit sample-data paragraph pointer. Its
// three bytes are NOT little-endian: the high byte comes first, then the
// remaining 16 bits are little-endian, a layout ST3's own documentation
// never states outright.
func sampleSegment(b [3]byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[2])<<8 | uint32(b[1])
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
