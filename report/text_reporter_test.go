// trackdump
// Licensed under MIT

package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineWritesLabelAndText(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Line("Title", "reflection")

	assert.Contains(t, buf.String(), "Title")
	assert.Contains(t, buf.String(), "reflection")
}

func TestQuietSuppressesLineButNotWarning(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)
	r.Quiet = true

	r.Line("Title", "reflection")
	r.Warning("short read")

	out := buf.String()
	assert.NotContains(t, out, "reflection")
	assert.Contains(t, out, "short read")
}

func TestTableAlignsColumnsByWidth(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	columns := []Column{
		{Header: "#", Width: 3, Right: true},
		{Header: "Name", Width: 8},
	}
	r.Table(columns, [][]string{{"0", "kick"}})

	assert.Contains(t, buf.String(), "kick")
}

func TestPatternSummaryNeverPanicsWithoutRows(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	pw := r.Pattern(0, 4, 64, 256)
	pw.Summary()

	assert.Contains(t, buf.String(), "Pattern")
}
