// trackdump
// Licensed under MIT

/*
Package registry holds the FormatHandler contract and the ordered dispatch
that tries each registered handler in turn, the way the teacher's itmod
package exposed a single LoadITData entry point, generalized to many
handlers instead of one.
*/
package registry

import "fmt"

// Kind discriminates the ParseError taxonomy from spec.md §7, ordered by
// recoverability.
type Kind int

const (
	// NotRecognized is registry-recoverable: the caller rewinds and tries
	// the next handler. Only phase 1 (Identify) may return it.
	NotRecognized Kind = iota
	ReadError
	SeekError
	Invalid
	BadPacking
	UnsupportedVersion
	AllocationError

	// Per-format additions. A handler may also return one of these baked
	// with its own reason text via New*; they are terminal like Invalid.
	TooManyBlocks
	TooManyInstruments
	TooManyPatterns
	TooManyEffects
)

func (k Kind) String() string {
	switch k {
	case NotRecognized:
		return "NotRecognized"
	case ReadError:
		return "ReadError"
	case SeekError:
		return "SeekError"
	case Invalid:
		return "Invalid"
	case BadPacking:
		return "BadPacking"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case AllocationError:
		return "AllocationError"
	case TooManyBlocks:
		return "TooManyBlocks"
	case TooManyInstruments:
		return "TooManyInstruments"
	case TooManyPatterns:
		return "TooManyPatterns"
	case TooManyEffects:
		return "TooManyEffects"
	default:
		return "Unknown"
	}
}

// ParseError is the sum type every FormatHandler phase returns in place of
// a plain error. Reason carries the per-format, human-readable detail
// ("cwtv out of range", "parapointer past end of file", ...).
type ParseError struct {
	Kind   Kind
	Reason string

	// Cause, if non-nil, is the underlying I/O or decode error this
	// ParseError wraps (typically from byteio or bitio).
	Cause error
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Recoverable reports whether the registry may rewind and try the next
// handler on this error. Only NotRecognized is.
func (e *ParseError) Recoverable() bool { return e.Kind == NotRecognized }

func newErr(kind Kind, reason string, cause error) *ParseError {
	return &ParseError{Kind: kind, Reason: reason, Cause: cause}
}

func NewNotRecognized(reason string) *ParseError { return newErr(NotRecognized, reason, nil) }

func NewReadError(cause error) *ParseError { return newErr(ReadError, "", cause) }

func NewSeekError(cause error) *ParseError { return newErr(SeekError, "", cause) }

func NewInvalid(reason string) *ParseError { return newErr(Invalid, reason, nil) }

func NewBadPacking(reason string) *ParseError { return newErr(BadPacking, reason, nil) }

func NewUnsupportedVersion(reason string) *ParseError {
	return newErr(UnsupportedVersion, reason, nil)
}

func NewAllocationError(reason string) *ParseError { return newErr(AllocationError, reason, nil) }

func NewTooManyBlocks(reason string) *ParseError { return newErr(TooManyBlocks, reason, nil) }

func NewTooManyInstruments(reason string) *ParseError {
	return newErr(TooManyInstruments, reason, nil)
}

func NewTooManyPatterns(reason string) *ParseError { return newErr(TooManyPatterns, reason, nil) }

func NewTooManyEffects(reason string) *ParseError { return newErr(TooManyEffects, reason, nil) }
