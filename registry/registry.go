// trackdump
// Licensed under MIT

package registry

import (
	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/report"
)

// FormatHandler is implemented once per supported format. AcceptAndParse
// runs the five phases (Identify, Header, Directory, Bodies, Cross-checks)
// described in spec.md §4.4 against reader and returns either a finished
// Module or a ParseError. ReportGlobalStats is called once per handler
// after the whole input batch has been processed, for cumulative
// per-format counters the driver tracks across files.
type FormatHandler interface {
	// Name is a short display name ("Impulse Tracker") and Tag is its
	// one-to-three letter abbreviation ("IT").
	Name() string
	Tag() string

	AcceptAndParse(reader *byteio.Reader) (*common.Module, *ParseError)

	ReportGlobalStats(reporter report.Reporter)
}

// Registry holds format handlers in a fixed order and dispatches a single
// reader through them. The order matters: handlers with a hard ASCII
// magic must run before handlers that only sniff heuristically (15-sample
// Soundtracker, Coconizer), since a heuristic handler has no safe way to
// reject a file a stronger handler would have claimed.
type Registry struct {
	handlers []FormatHandler
}

func New() *Registry {
	return &Registry{}
}

// Register appends h to the dispatch order. Call in the order described
// above; Register does not reorder handlers itself.
func (reg *Registry) Register(h FormatHandler) {
	reg.handlers = append(reg.handlers, h)
}

// Handlers returns the registered handlers in dispatch order, for drivers
// that need to call ReportGlobalStats on each after a batch.
func (reg *Registry) Handlers() []FormatHandler {
	return reg.handlers
}

// TryLoad offers reader to each handler in order. Before each call it
// records the reader's position; on NotRecognized it rewinds to that
// position and tries the next handler. Any other ParseError is terminal
// and returned immediately without trying further handlers. The registry
// is the only component in this module allowed to rewind a reader.
func (reg *Registry) TryLoad(reader *byteio.Reader) (*common.Module, *ParseError) {
	start := reader.Position()

	for _, h := range reg.handlers {
		module, err := h.AcceptAndParse(reader)
		if err == nil {
			return module, nil
		}
		if !err.Recoverable() {
			return nil, err
		}
		if seekErr := reader.Seek(start); seekErr != nil {
			return nil, NewSeekError(seekErr)
		}
	}

	return nil, NewNotRecognized("no registered handler claimed this input")
}
