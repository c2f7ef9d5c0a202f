// trackdump
// Licensed under MIT

package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// TextReporter is the reference Reporter: plain aligned text to an
// io.Writer, with labels in cyan, headings in bold white, warnings in
// yellow and errors in bold red.
type TextReporter struct {
	w io.Writer

	label   func(a ...interface{}) string
	warn    func(a ...interface{}) string
	errFn   func(a ...interface{}) string
	heading func(a ...interface{}) string

	// Quiet suppresses Line/Table/Orders/Pattern output; Warning and
	// Error always print, matching spec's "quiet" configuration option.
	Quiet bool
}

// NewTextReporter writes to w with color enabled according to color's own
// NO_COLOR / terminal detection. Pass os.Stdout for the CLI driver.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{
		w:       w,
		label:   color.New(color.FgCyan).SprintFunc(),
		warn:    color.New(color.FgYellow).SprintFunc(),
		errFn:   color.New(color.FgRed, color.Bold).SprintFunc(),
		heading: color.New(color.FgWhite, color.Bold).SprintFunc(),
	}
}

// NewStdoutTextReporter is a convenience constructor for the common case.
func NewStdoutTextReporter() *TextReporter {
	return NewTextReporter(os.Stdout)
}

func (r *TextReporter) Line(label, text string) {
	if r.Quiet {
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", r.label(label), text)
}

func (r *TextReporter) Warning(text string) {
	fmt.Fprintf(r.w, "%s %s\n", r.warn("Warning:"), text)
}

func (r *TextReporter) Error(text string) {
	fmt.Fprintf(r.w, "%s %s\n", r.errFn("Error:"), text)
}

func (r *TextReporter) Uses(labels []string) {
	if r.Quiet || len(labels) == 0 {
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", r.label("Uses:"), strings.Join(labels, ", "))
}

// Table prints each column right- or left-aligned to its declared width,
// formatting cells already rendered as strings by the caller (the core
// decides Hex/ZeroPadded formatting before handing rows to the reporter;
// TextReporter only aligns and labels).
func (r *TextReporter) Table(columns []Column, rows [][]string) {
	if r.Quiet {
		return
	}

	var header strings.Builder
	for i, c := range columns {
		if i > 0 {
			header.WriteByte(' ')
		}
		header.WriteString(padCell(c.Header, c.Width, c.Right))
	}
	fmt.Fprintln(r.w, r.heading(header.String()))

	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i > 0 {
				line.WriteByte(' ')
			}
			width := 0
			right := false
			if i < len(columns) {
				width, right = columns[i].Width, columns[i].Right
			}
			line.WriteString(padCell(cell, width, right))
		}
		fmt.Fprintln(r.w, line.String())
	}
}

func padCell(s string, width int, right bool) string {
	if len(s) >= width {
		return s
	}
	pad := strings.Repeat(" ", width-len(s))
	if right {
		return pad + s
	}
	return s + pad
}

func (r *TextReporter) Orders(label string, values []int16) {
	if r.Quiet {
		return
	}
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = fmt.Sprintf("%d", v)
	}
	fmt.Fprintf(r.w, "%s: %s\n", r.label(label), strings.Join(cells, " "))
}

func (r *TextReporter) Pattern(index, channels, rows int, packedBytes int) PatternWriter {
	if !r.Quiet {
		fmt.Fprintf(r.w, "%s %d (%d channels, %d rows, %d packed bytes)\n",
			r.heading("Pattern"), index, channels, rows, packedBytes)
	}
	return &textPatternWriter{r: r}
}

type textPatternWriter struct {
	r *TextReporter
}

func (p *textPatternWriter) Row(index int, cells []string) {
	if p.r.Quiet {
		return
	}
	fmt.Fprintf(p.r.w, "%3d | %s\n", index, strings.Join(cells, " | "))
}

func (p *textPatternWriter) Summary() {
}
