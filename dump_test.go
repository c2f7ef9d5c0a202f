// trackdump
// Licensed under MIT

package trackdump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/report"
)

// fakeReporter records every call it receives instead of formatting
// anything, the way a test double should, so assertions check what Dump
// decided to report rather than how TextReporter happens to render it.
type fakeReporter struct {
	lines    map[string]string
	warnings []string
	errors   []string
	uses     []string
	tables   [][][]string
	patterns int
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{lines: make(map[string]string)}
}

func (f *fakeReporter) Line(label, text string)              { f.lines[label] = text }
func (f *fakeReporter) Warning(text string)                  { f.warnings = append(f.warnings, text) }
func (f *fakeReporter) Error(text string)                    { f.errors = append(f.errors, text) }
func (f *fakeReporter) Uses(labels []string)                 { f.uses = labels }
func (f *fakeReporter) Orders(label string, values []int16)  {}
func (f *fakeReporter) Table(columns []report.Column, rows [][]string) {
	f.tables = append(f.tables, rows)
}

func (f *fakeReporter) Pattern(index, channels, rows int, packedBytes int) report.PatternWriter {
	f.patterns++
	return &fakePatternWriter{}
}

type fakePatternWriter struct{ rows int }

func (p *fakePatternWriter) Row(index int, cells []string) { p.rows++ }
func (p *fakePatternWriter) Summary()                      {}

func TestDumpEmitsCoreFieldsAndWarnings(t *testing.T) {
	module := &Module{
		Source:   ModSource,
		Channels: 4,
		Samples: []Sample{
			{Name: "kick", Length: 100, C5: 8363},
		},
		Warnings: []string{"short read in sample 0"},
	}

	r := newFakeReporter()
	Dump(module, Config{DumpSamples: true}, r)

	assert.Equal(t, "MOD", r.lines["Format"])
	assert.Equal(t, "4", r.lines["Channels"])
	require.Len(t, r.warnings, 1)
	assert.Equal(t, "short read in sample 0", r.warnings[0])
	require.Len(t, r.tables, 1)
	assert.Equal(t, "kick", r.tables[0][0][1])
}

func TestDumpSkipsSampleTableWhenNotRequested(t *testing.T) {
	module := &Module{Source: ItSource, Samples: []Sample{{Name: "x"}}}

	r := newFakeReporter()
	Dump(module, Config{}, r)

	assert.Empty(t, r.tables)
}

func TestDumpReportsUsageLabelsWhenSet(t *testing.T) {
	module := &Module{Source: S3mSource}
	module.Usage.Set(Feature{Ordinal: 0, Label: "AdLib"})

	r := newFakeReporter()
	Dump(module, Config{}, r)

	assert.Equal(t, []string{"AdLib"}, r.uses)
}

func TestDumpPatternsInvokesReporterPerPattern(t *testing.T) {
	module := &Module{
		Source: ModSource,
		Patterns: []Pattern{
			{Rows: 2, Channels: 1, Events: make([]Event, 2)},
		},
	}

	r := newFakeReporter()
	Dump(module, Config{DumpPatterns: true, DumpPatternRows: true}, r)

	assert.Equal(t, 1, r.patterns)
}
