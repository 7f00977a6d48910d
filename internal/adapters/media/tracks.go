// Package media captures local camera and microphone through
// pion/mediadevices and exposes the result as core.Stream.
package media

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/core"
)

// deviceTrack adapts one mediadevices track. The enabled flag gates
// transmission intent; Stop releases the device.
type deviceTrack struct {
	t    mediadevices.Track
	kind core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newDeviceTrack(t mediadevices.Track) *deviceTrack {
	kind := core.KindAudio
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.KindVideo
	}
	return &deviceTrack{t: t, kind: kind, enabled: true}
}

func (d *deviceTrack) Kind() core.TrackKind { return d.kind }

func (d *deviceTrack) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *deviceTrack) SetEnabled(on bool) {
	d.mu.Lock()
	d.enabled = on
	d.mu.Unlock()
}

func (d *deviceTrack) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	_ = d.t.Close()
}

func (d *deviceTrack) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// RTPTrack exposes the underlying pion track for peer-connection attach.
func (d *deviceTrack) RTPTrack() webrtc.TrackLocal { return d.t }

type deviceStream struct {
	tracks []core.Track
}

func newDeviceStream(ms mediadevices.MediaStream) *deviceStream {
	s := &deviceStream{}
	for _, t := range ms.GetTracks() {
		s.tracks = append(s.tracks, newDeviceTrack(t))
	}
	return s
}

func (s *deviceStream) Tracks() []core.Track { return s.tracks }
