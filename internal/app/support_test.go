package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type fakeTrack struct {
	kind core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (f *fakeTrack) Kind() core.TrackKind { return f.kind }

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) SetEnabled(on bool) {
	f.mu.Lock()
	f.enabled = on
	f.mu.Unlock()
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTrack) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeStream struct {
	tracks []core.Track
}

func (f *fakeStream) Tracks() []core.Track { return f.tracks }

// fakeSource scripts capture outcomes per attempt kind.
type fakeSource struct {
	mu       sync.Mutex
	videoErr error
	audioErr error
	captures int
	streams  []*fakeStream
}

func (f *fakeSource) Capture(_ context.Context, video bool) (core.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if video && f.videoErr != nil {
		return nil, f.videoErr
	}
	if !video && f.audioErr != nil {
		return nil, f.audioErr
	}
	s := &fakeStream{tracks: []core.Track{&fakeTrack{kind: core.KindAudio, enabled: true}}}
	if video {
		s.tracks = append(s.tracks, &fakeTrack{kind: core.KindVideo, enabled: true})
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeSource) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

// fakeLink models the signaling-state machine of one peer connection.
type fakeLink struct {
	peer domain.UserID

	mu         sync.Mutex
	signaling  string // stable | have-local-offer | have-remote-offer
	state      core.LinkState
	closed     bool
	rolledBack bool
	offerFails int
	attachErr  error
	attaches   int
	offers     int
	answers    int
	candidates []webrtc.ICECandidateInit

	onState  func(core.LinkState)
	onRemote func()
	onNeg    func()
	onCand   func(webrtc.ICECandidateInit)
}

func newFakeLink(peer domain.UserID) *fakeLink {
	return &fakeLink{peer: peer, signaling: "stable", state: core.LinkConnecting}
}

func (f *fakeLink) AttachLocal(_ core.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches++
	return f.attachErr
}

func (f *fakeLink) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if f.offerFails > 0 {
		f.offerFails--
		return webrtc.SessionDescription{}, errors.New("offer failed")
	}
	f.signaling = "have-local-offer"
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeLink) ApplyOffer(_ webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaling != "stable" {
		f.rolledBack = true
		f.signaling = "stable"
	}
	f.signaling = "have-remote-offer"
	return nil
}

func (f *fakeLink) CreateAnswer(_ context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	f.signaling = "stable"
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeLink) ApplyAnswer(_ webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaling != "have-local-offer" {
		return errors.New("no pending offer")
	}
	f.signaling = "stable"
	return nil
}

func (f *fakeLink) AddCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeLink) OnStateChange(fn func(core.LinkState)) { f.mu.Lock(); f.onState = fn; f.mu.Unlock() }
func (f *fakeLink) OnRemoteTrack(fn func())               { f.mu.Lock(); f.onRemote = fn; f.mu.Unlock() }
func (f *fakeLink) OnNegotiationNeeded(fn func())         { f.mu.Lock(); f.onNeg = fn; f.mu.Unlock() }
func (f *fakeLink) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCand = fn
	f.mu.Unlock()
}

func (f *fakeLink) State() core.LinkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLink) Close() {
	f.mu.Lock()
	f.closed = true
	f.state = core.LinkClosed
	f.mu.Unlock()
}

func (f *fakeLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeLink) fireState(s core.LinkState) {
	f.mu.Lock()
	f.state = s
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeLink) fireRemoteTrack() {
	f.mu.Lock()
	fn := f.onRemote
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeLink) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

// fakeFactory hands out fakeLinks and remembers them per peer.
type fakeFactory struct {
	mu    sync.Mutex
	links map[domain.UserID][]*fakeLink
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{links: make(map[domain.UserID][]*fakeLink)}
}

func (f *fakeFactory) make(peer domain.UserID, _ core.Stream) (core.MediaLink, error) {
	l := newFakeLink(peer)
	f.mu.Lock()
	f.links[peer] = append(f.links[peer], l)
	f.mu.Unlock()
	return l, nil
}

func (f *fakeFactory) linksFor(peer domain.UserID) []*fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeLink, len(f.links[peer]))
	copy(out, f.links[peer])
	return out
}

func (f *fakeFactory) latest(peer domain.UserID) *fakeLink {
	ls := f.linksFor(peer)
	if len(ls) == 0 {
		return nil
	}
	return ls[len(ls)-1]
}

type sentEvent struct {
	Event   string
	Payload []byte
}

// fakeChannel is an in-memory core.SignalChannel.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]core.EventHandler
	sent     []sentEvent
	online   []domain.UserID
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]core.EventHandler)}
}

func (f *fakeChannel) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentEvent{Event: event, Payload: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) On(event string, h core.EventHandler) {
	f.mu.Lock()
	f.handlers[event] = h
	f.mu.Unlock()
}

func (f *fakeChannel) Off(event string) {
	f.mu.Lock()
	delete(f.handlers, event)
	f.mu.Unlock()
}

func (f *fakeChannel) Online() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeChannel) Close() {}

// emit delivers an event to the registered handler, like the read pump would.
func (f *fakeChannel) emit(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.mu.Lock()
	h, ok := f.handlers[event]
	f.mu.Unlock()
	if !ok {
		return
	}
	h(data)
}

func (f *fakeChannel) sentEvents(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sent {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}
