// trackdump
// Licensed under MIT

/*
Package trackdump is the root entry point: Load / LoadFromStream open a
tracker module file and run it through every registered format handler in
a fixed, documented order, the way the teacher's modlib.LoadModule opens a
file and hands it to itmod.ItReader. Unlike the teacher, which recognizes
exactly one format, trackdump composes a registry.Registry from every
package under formats/ so a caller never needs to know which format a
file turned out to be.
*/
package trackdump

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/mukunda/trackdump/formats/coco"
	"github.com/mukunda/trackdump/formats/it"
	"github.com/mukunda/trackdump/formats/liq"
	"github.com/mukunda/trackdump/formats/masi"
	"github.com/mukunda/trackdump/formats/med"
	"github.com/mukunda/trackdump/formats/mod"
	"github.com/mukunda/trackdump/formats/rtm"
	"github.com/mukunda/trackdump/formats/s3m"
	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/registry"
)

// registerAll composes the dispatch order every Registry returned by
// NewRegistry uses. Order matters per spec: magic-identified formats run
// before the heuristic ones (15-sample Soundtracker variants folded into
// formats/mod, and Coconizer) that have no safe rejection test of their
// own and would otherwise shadow a stronger match.
func registerAll(reg *registry.Registry) {
	reg.Register(it.New())
	reg.Register(s3m.New())
	reg.Register(med.New())
	reg.Register(masi.New())
	reg.Register(liq.New())
	reg.Register(rtm.New())
	reg.Register(mod.New())
	reg.Register(coco.New())
}

// NewRegistry builds a Registry with every supported format handler
// registered in dispatch order. Callers that need per-format cumulative
// stats (ReportGlobalStats) after a batch should build their own registry
// with this function rather than calling Load/LoadFromStream per file,
// since those helpers build and discard a fresh registry each call.
func NewRegistry() *registry.Registry {
	reg := registry.New()
	registerAll(reg)
	return reg
}

// Load opens filename and parses it with LoadFromStream.
func Load(filename string) (*Module, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", filename)
	}
	defer file.Close()

	return LoadFromStream(file)
}

// LoadFromStream reads r in full and tries every registered format
// handler in order, returning the first Module a handler accepts.
// Seeking is required for format identification to rewind between
// handlers; the reader is wrapped once into a byteio.Reader that owns the
// whole input, the same contract every FormatHandler.AcceptAndParse uses.
func LoadFromStream(r io.Reader) (*Module, error) {
	reader, err := byteio.New(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading input")
	}

	reg := NewRegistry()
	module, parseErr := reg.TryLoad(reader)
	if parseErr != nil {
		return nil, errors.Wrap(parseErr, "loading module")
	}
	return module, nil
}
