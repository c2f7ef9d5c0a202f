// trackdump
// Licensed under MIT

package trackdump

import (
	"fmt"

	"github.com/mukunda/trackdump/report"
)

// Config mirrors spec.md §6.2's independently-toggled dump options
// one-to-one. Load/LoadFromStream never consult Config; it only governs
// Dump, keeping parsing and rendering as separate as modlib's ItReader
// (parse) and the caller's own printing (render).
type Config struct {
	DumpDescriptions bool
	DumpSamples      bool
	DumpSamplesExtra bool
	DumpPatterns     bool
	DumpPatternRows  bool
	Quiet            bool

	// HighlightMask and Highlight hold the values the CLI's -H flag
	// names. Dump does not read either field and does not pass them to
	// the reporter, so they do not change the output.
	HighlightMask uint32
	Highlight     [256]bool
}

// Dump renders module through reporter according to cfg, the single place
// that turns the common data model into the Reporter call sequence every
// CLI driver and any future embedder shares.
func Dump(module *Module, cfg Config, reporter report.Reporter) {
	reporter.Line("Format", module.Source.String())
	reporter.Line("Tracker", module.TrackerID)
	if cfg.DumpDescriptions && module.Title != "" {
		reporter.Line("Title", module.Title)
	}
	if cfg.DumpDescriptions && module.Message != "" {
		reporter.Line("Message", module.Message)
	}

	reporter.Line("Channels", fmt.Sprintf("%d", module.Channels))
	reporter.Line("Instruments", fmt.Sprintf("%d", len(module.Instruments)))
	reporter.Line("Samples", fmt.Sprintf("%d", len(module.Samples)))
	reporter.Line("Patterns", fmt.Sprintf("%d", len(module.Patterns)))

	reporter.Orders("Order", module.Order)

	if !module.Usage.Empty() {
		reporter.Uses(module.Usage.Labels())
	}

	if cfg.DumpSamples {
		dumpSamples(module, cfg, reporter)
	}

	if cfg.DumpPatterns {
		dumpPatterns(module, cfg, reporter)
	}

	for _, w := range module.Warnings {
		reporter.Warning(w)
	}
}

func dumpSamples(module *Module, cfg Config, reporter report.Reporter) {
	columns := []report.Column{
		{Header: "#", Width: 3, Right: true},
		{Header: "Name", Width: 22},
		{Header: "Length", Width: 8, Right: true},
		{Header: "Loop", Width: 10},
		{Header: "C5", Width: 6, Right: true},
	}
	if cfg.DumpSamplesExtra {
		columns = append(columns,
			report.Column{Header: "Vol", Width: 4, Right: true},
			report.Column{Header: "Pan", Width: 4, Right: true},
		)
	}

	rows := make([][]string, 0, len(module.Samples))
	for i, s := range module.Samples {
		row := []string{
			fmt.Sprintf("%d", i),
			s.Name,
			fmt.Sprintf("%d", s.Length),
			loopLabel(s.Loop),
			fmt.Sprintf("%d", s.C5),
		}
		if cfg.DumpSamplesExtra {
			row = append(row,
				fmt.Sprintf("%d", s.DefaultVolume),
				fmt.Sprintf("%d", s.DefaultPanning),
			)
		}
		rows = append(rows, row)
	}
	reporter.Table(columns, rows)
}

func loopLabel(l LoopType) string {
	switch l {
	case 1:
		return "forward"
	case 2:
		return "ping-pong"
	case 3:
		return "sustain"
	case 4:
		return "sus-ping"
	default:
		return "none"
	}
}

func dumpPatterns(module *Module, cfg Config, reporter report.Reporter) {
	for index, pattern := range module.Patterns {
		pw := reporter.Pattern(index, pattern.Channels, pattern.Rows, pattern.PackedBytes)
		if cfg.DumpPatternRows {
			for row := 0; row < pattern.Rows; row++ {
				cells := make([]string, pattern.Channels)
				for ch := 0; ch < pattern.Channels; ch++ {
					cells[ch] = formatEvent(pattern.At(row, ch))
				}
				pw.Row(row, cells)
			}
		}
		pw.Summary()
	}
}

func formatEvent(e *Event) string {
	note := "..."
	switch e.Note {
	case 0:
		note = "..."
	case 253:
		note = "=^="
	case 254:
		note = "^^^"
	case 255:
		note = "==="
	default:
		note = fmt.Sprintf("%3d", e.Note)
	}

	inst := "..."
	if e.Instrument != 0 {
		inst = fmt.Sprintf("%3d", e.Instrument)
	}

	vol := "..."
	if e.VolumeCommand != 0 {
		vol = fmt.Sprintf("%d%02d", e.VolumeCommand, e.VolumeParam)
	}

	effect := "..."
	if e.Effect != 0 {
		effect = fmt.Sprintf("%c%02X", e.Effect, e.EffectParam)
	}

	return fmt.Sprintf("%s %s %s %s", note, inst, vol, effect)
}
