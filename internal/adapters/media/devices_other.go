//go:build !linux || !cgo

package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/core"
)

var errUnsupported = errors.New("media capture: no device driver for this platform")

// Source is a stub on platforms without capture drivers; every Capture
// fails as device-not-found so callers surface the right diagnostic.
type Source struct{}

func NewSource() (*Source, error) { return &Source{}, nil }

// Populate has no capture codecs of its own; register the defaults so
// receive-only negotiation still works.
func (s *Source) Populate(engine *webrtc.MediaEngine) {
	_ = engine.RegisterDefaultCodecs()
}

func (s *Source) Capture(_ context.Context, _ bool) (core.Stream, error) {
	return nil, errUnsupported
}
