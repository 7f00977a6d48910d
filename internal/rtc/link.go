// Package rtc wraps pion peer connections as core.MediaLink instances.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

var ErrNoPendingOffer = errors.New("no pending offer")

// localRTPTrack is satisfied by media-adapter tracks that carry a real
// pion track underneath. Fake tracks in tests do not, and are skipped.
type localRTPTrack interface {
	RTPTrack() webrtc.TrackLocal
}

type Link struct {
	pc   *webrtc.PeerConnection
	peer domain.UserID

	mu       sync.Mutex
	state    core.LinkState
	closing  bool
	attached map[string]bool

	onState       func(core.LinkState)
	onRemoteTrack func()
	onNegotiate   func()
	onCandidate   func(webrtc.ICECandidateInit)
}

func Configuration(stunServers []string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
}

func NewLink(api *webrtc.API, cfg webrtc.Configuration, peer domain.UserID) (*Link, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &Link{
		pc:       pc,
		peer:     peer,
		state:    core.LinkConnecting,
		attached: make(map[string]bool),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected:
			l.setState(core.LinkConnected)
		case webrtc.ICEConnectionStateDisconnected:
			l.setState(core.LinkDisconnected)
		case webrtc.ICEConnectionStateFailed:
			l.setState(core.LinkFailed)
		case webrtc.ICEConnectionStateClosed:
			l.setState(core.LinkClosed)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("peer_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.setState(core.LinkConnected)
		case webrtc.PeerConnectionStateDisconnected:
			l.setState(core.LinkDisconnected)
		case webrtc.PeerConnectionStateFailed:
			l.setState(core.LinkFailed)
		case webrtc.PeerConnectionStateClosed:
			l.setState(core.LinkClosed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		l.mu.Lock()
		fn := l.onRemoteTrack
		l.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	pc.OnNegotiationNeeded(func() {
		l.mu.Lock()
		fn := l.onNegotiate
		closing := l.closing
		l.mu.Unlock()
		if fn != nil && !closing {
			fn()
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		l.mu.Lock()
		fn := l.onCandidate
		l.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	return l, nil
}

func (l *Link) setState(s core.LinkState) {
	l.mu.Lock()
	if l.closing || l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *Link) OnStateChange(fn func(core.LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *Link) OnRemoteTrack(fn func()) {
	l.mu.Lock()
	l.onRemoteTrack = fn
	l.mu.Unlock()
}

func (l *Link) OnNegotiationNeeded(fn func()) {
	l.mu.Lock()
	l.onNegotiate = fn
	l.mu.Unlock()
}

func (l *Link) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	l.onCandidate = fn
	l.mu.Unlock()
}

func (l *Link) State() core.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// AttachLocal adds the shared local tracks to this connection. Tracks
// already attached are skipped so renegotiation does not duplicate senders.
func (l *Link) AttachLocal(s core.Stream) error {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		rt, ok := t.(localRTPTrack)
		if !ok {
			continue
		}
		track := rt.RTPTrack()
		l.mu.Lock()
		if l.attached[track.ID()] {
			l.mu.Unlock()
			continue
		}
		l.attached[track.ID()] = true
		l.mu.Unlock()
		if _, err := l.pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// CreateOffer waits for ICE gathering bounded by ctx; on timeout the
// partial offer is sent anyway rather than hanging the negotiation.
func (l *Link) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		log.Warn().Str("module", "rtc").Str("peer", string(l.peer)).Msg("ICE gathering timeout, sending partial offer")
	}
	return *l.pc.LocalDescription(), nil
}

// ApplyOffer installs a remote offer, rolling back a half-finished local
// offer first. Last offer wins: the callee always defers to an incoming
// offer, which resolves glare without extra signaling.
func (l *Link) ApplyOffer(sd webrtc.SessionDescription) error {
	if l.pc.SignalingState() != webrtc.SignalingStateStable {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := l.pc.SetLocalDescription(rollback); err != nil {
			return err
		}
		log.Info().Str("module", "rtc").Str("peer", string(l.peer)).Msg("rolled back local offer (glare)")
	}
	return l.pc.SetRemoteDescription(sd)
}

func (l *Link) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		log.Warn().Str("module", "rtc").Str("peer", string(l.peer)).Msg("ICE gathering timeout, sending partial answer")
	}
	return *l.pc.LocalDescription(), nil
}

func (l *Link) ApplyAnswer(sd webrtc.SessionDescription) error {
	if l.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return ErrNoPendingOffer
	}
	return l.pc.SetRemoteDescription(sd)
}

func (l *Link) AddCandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

// Close is idempotent; state callbacks are suppressed from here on so a
// deliberate teardown never looks like a connectivity failure.
func (l *Link) Close() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	l.state = core.LinkClosed
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(l.peer)).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("peer", string(l.peer)).Msg("closed")
}
