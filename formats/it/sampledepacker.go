// trackdump
// Licensed under MIT

/*
ITSampleDepacker scans IT's compressed-sample bitstream for statistics
without materializing PCM, per the block-loop and width-change rules the
core is required to reproduce exactly. Grounded on the teacher's
itmod/itsamplecodec.go (decodeChunk's mode A/B/C width-change logic),
restated here to produce CompressionStats instead of decoded samples.
*/
package it

import (
	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/bitio"
	"github.com/mukunda/trackdump/internal/byteio"
)

type depackerParams struct {
	fetchBits int
	lowerB    int
	upperB    int
	defWidth  int
}

var depacker8 = depackerParams{fetchBits: 3, lowerB: -4, upperB: 3, defWidth: 9}
var depacker16 = depackerParams{fetchBits: 4, lowerB: -8, upperB: 7, defWidth: 17}

// scanCompressedSample walks every block of a compressed sample's bitstream
// and returns aggregate CompressionStats, leaving reader positioned just
// past the last block (so the caller can continue to the next sample).
func scanCompressedSample(reader *byteio.Reader, sampleLength int, is16 bool) (*common.CompressionStats, error) {
	stats := &common.CompressionStats{
		SmallestBlock: -1,
	}

	params := depacker8
	maxBlockSamples := 0x8000
	if is16 {
		params = depacker16
		maxBlockSamples = 0x4000
	}

	remaining := sampleLength
	for remaining > 0 {
		blockStart := reader.Position()
		byteCount, err := reader.ReadU16LE()
		if err != nil {
			break
		}
		blockData, err := reader.ReadBytes(int(byteCount))
		if err != nil {
			break
		}

		blockSamples := remaining
		if blockSamples > maxBlockSamples {
			blockSamples = maxBlockSamples
		}

		bits := bitio.NewITReader(blockData, len(blockData))
		width := params.defWidth
		decodedInBlock := 0

		for decodedInBlock < blockSamples {
			if width > params.defWidth {
				stats.InvalidBitWidth = true
				break
			}

			code, err := bits.Read(width)
			if err != nil {
				break
			}
			v := int(code)
			topBit := 1 << uint(width-1)

			switch {
			case width <= 6:
				if v == topBit {
					toWidth, err := bits.Read(params.fetchBits)
					if err != nil {
						break
					}
					width = nextWidth(int(toWidth), width)
				} else {
					decodedInBlock++
				}
			case width < params.defWidth:
				if v >= topBit+params.lowerB && v <= topBit+params.upperB {
					width = nextWidth(v-(topBit+params.lowerB), width)
				} else {
					decodedInBlock++
				}
			default:
				if v&topBit != 0 {
					width = (v & ^topBit) + 1
				} else {
					decodedInBlock++
				}
			}
		}

		remaining -= blockSamples

		blockBytes := int(byteCount) + 2
		stats.CompressedBytes += blockBytes
		stats.UncompressedBytes += blockSamples
		if stats.SmallestBlock < 0 || blockBytes < stats.SmallestBlock {
			stats.SmallestBlock = blockBytes
			stats.SmallestBlockLen = blockSamples
		}
		if blockBytes > stats.LargestBlock {
			stats.LargestBlock = blockBytes
		}

		_ = blockStart
	}

	if stats.SmallestBlock < 0 {
		stats.SmallestBlock = 0
	}

	return stats, nil
}

// nextWidth applies mode A/B's width-change promotion: the freshly read
// value is incremented once unconditionally, then incremented again if
// that lands at or past the current width. Matches the teacher's
// changeWidth (toWidth++; if toWidth>=width{toWidth++}).
func nextWidth(v, width int) int {
	v++
	if v < width {
		return v
	}
	return v + 1
}
