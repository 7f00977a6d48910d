package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/domain"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one local capture track. Enabled toggles transmission without
// releasing the device; Stop releases it for good.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(on bool)
	Stop()
	Stopped() bool
}

// Stream groups the tracks of one acquisition. At most one Stream is live
// per process; the media manager enforces it.
type Stream interface {
	Tracks() []Track
}

// MediaSource is the capture device behind the media manager. The real one
// wraps pion/mediadevices; tests substitute a fake.
type MediaSource interface {
	Capture(ctx context.Context, video bool) (Stream, error)
}

// LinkState is the connectivity state of one peer link, collapsed from
// pion's ICE and peer-connection states.
type LinkState string

const (
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// Terminal reports whether a link in this state must be discarded.
func (s LinkState) Terminal() bool {
	return s == LinkDisconnected || s == LinkFailed || s == LinkClosed
}

// MediaLink is one peer-to-peer media connection toward a single remote
// participant. Implemented by internal/rtc over pion; the registry owns
// every instance and is the only caller of Close.
type MediaLink interface {
	// AttachLocal adds the shared local stream's tracks. Safe to call again
	// before answering a renegotiation offer; already-attached tracks are
	// skipped.
	AttachLocal(s Stream) error

	// CreateOffer produces a local offer, waiting for ICE gathering to
	// finish bounded by the context deadline.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)

	// ApplyOffer installs a remote offer. When the local signaling state is
	// not stable it rolls back first (last-offer-wins glare resolution).
	ApplyOffer(sd webrtc.SessionDescription) error

	// CreateAnswer follows the same gather-then-return rule as CreateOffer.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)

	// ApplyAnswer installs a remote answer. Refused when no offer is
	// outstanding.
	ApplyAnswer(sd webrtc.SessionDescription) error

	AddCandidate(c webrtc.ICECandidateInit) error

	OnStateChange(fn func(LinkState))
	OnRemoteTrack(fn func())
	OnNegotiationNeeded(fn func())
	// OnCandidate fires for every locally gathered ICE candidate so the
	// negotiator can trickle it to the remote side.
	OnCandidate(fn func(webrtc.ICECandidateInit))

	State() LinkState
	Close()
}

// LinkFactory builds a MediaLink toward the given participant with local
// media already attached.
type LinkFactory func(peer domain.UserID, local Stream) (MediaLink, error)
