// trackdump
// Licensed under MIT

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukunda/trackdump/common"
	"github.com/mukunda/trackdump/internal/byteio"
	"github.com/mukunda/trackdump/report"
)

type stubHandler struct {
	name, tag string
	claim     func(r *byteio.Reader) (*common.Module, *ParseError)
	reported  bool
}

func (s *stubHandler) Name() string { return s.name }
func (s *stubHandler) Tag() string  { return s.tag }

func (s *stubHandler) AcceptAndParse(r *byteio.Reader) (*common.Module, *ParseError) {
	return s.claim(r)
}

func (s *stubHandler) ReportGlobalStats(reporter report.Reporter) {
	s.reported = true
}

func notRecognized(r *byteio.Reader) (*common.Module, *ParseError) {
	// Simulate a handler that peeks a few bytes before giving up; the
	// registry must undo this.
	_, _ = r.ReadBytes(4)
	return nil, NewNotRecognized("magic mismatch")
}

func TestRegistryRewindsOnNotRecognized(t *testing.T) {
	reg := New()
	var secondSawPos int64 = -1

	reg.Register(&stubHandler{name: "first", tag: "F1", claim: notRecognized})
	reg.Register(&stubHandler{name: "second", tag: "F2", claim: func(r *byteio.Reader) (*common.Module, *ParseError) {
		secondSawPos = r.Position()
		return &common.Module{Source: common.ModSource}, nil
	}})

	r := byteio.NewFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	module, err := reg.TryLoad(r)

	require.Nil(t, err)
	require.NotNil(t, module)
	assert.EqualValues(t, 0, secondSawPos)
}

func TestRegistryStopsOnTerminalError(t *testing.T) {
	reg := New()
	secondCalled := false

	reg.Register(&stubHandler{name: "first", tag: "F1", claim: func(r *byteio.Reader) (*common.Module, *ParseError) {
		return nil, NewInvalid("corrupt header")
	}})
	reg.Register(&stubHandler{name: "second", tag: "F2", claim: func(r *byteio.Reader) (*common.Module, *ParseError) {
		secondCalled = true
		return &common.Module{}, nil
	}})

	r := byteio.NewFromBytes([]byte{1, 2, 3, 4})
	module, err := reg.TryLoad(r)

	require.NotNil(t, err)
	assert.Nil(t, module)
	assert.Equal(t, Invalid, err.Kind)
	assert.False(t, secondCalled)
}

func TestRegistryExhaustsToNotRecognized(t *testing.T) {
	reg := New()
	reg.Register(&stubHandler{name: "first", tag: "F1", claim: notRecognized})
	reg.Register(&stubHandler{name: "second", tag: "F2", claim: notRecognized})

	r := byteio.NewFromBytes([]byte{1, 2, 3, 4})
	module, err := reg.TryLoad(r)

	assert.Nil(t, module)
	require.NotNil(t, err)
	assert.Equal(t, NotRecognized, err.Kind)
	assert.True(t, err.Recoverable())
}

func TestParseErrorString(t *testing.T) {
	err := NewInvalid("bad magic")
	assert.Equal(t, "Invalid: bad magic", err.Error())

	bare := NewNotRecognized("")
	assert.Equal(t, "NotRecognized", bare.Error())
}
