package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

// staticTrack wraps a pion sample track so AttachLocal sees a real
// localRTPTrack. Media never flows in these tests; only SDP does.
type staticTrack struct {
	track   webrtc.TrackLocal
	kind    core.TrackKind
	enabled bool
}

func (s *staticTrack) Kind() core.TrackKind { return s.kind }

func (s *staticTrack) Enabled() bool { return s.enabled }

func (s *staticTrack) SetEnabled(on bool) { s.enabled = on }

func (s *staticTrack) Stop() {}

func (s *staticTrack) Stopped() bool { return false }

func (s *staticTrack) RTPTrack() webrtc.TrackLocal { return s.track }

type staticStream struct {
	tracks []core.Track
}

func (s *staticStream) Tracks() []core.Track { return s.tracks }

func newAudioStream(t *testing.T) core.Stream {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mesh")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	return &staticStream{tracks: []core.Track{&staticTrack{track: track, kind: core.KindAudio, enabled: true}}}
}

func newTestLink(t *testing.T, peer string) *Link {
	t.Helper()
	api, err := newAPI(nil)
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	l, err := NewLink(api, Configuration(nil), domain.UserID(peer))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func gatherCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOfferAnswerHandshake(t *testing.T) {
	caller := newTestLink(t, "caller")
	callee := newTestLink(t, "callee")

	if err := caller.AttachLocal(newAudioStream(t)); err != nil {
		t.Fatalf("attach: %v", err)
	}

	offer, err := caller.CreateOffer(gatherCtx(t))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		t.Fatalf("offer = %v", offer.Type)
	}

	if err := callee.ApplyOffer(offer); err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	answer, err := callee.CreateAnswer(gatherCtx(t))
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer = %v", answer.Type)
	}

	if err := caller.ApplyAnswer(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
}

func TestApplyAnswerWithoutOfferRefused(t *testing.T) {
	l := newTestLink(t, "peer")

	err := l.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if !errors.Is(err, ErrNoPendingOffer) {
		t.Fatalf("err = %v, want ErrNoPendingOffer", err)
	}
}

func TestGlareRollsBackLocalOffer(t *testing.T) {
	a := newTestLink(t, "a")
	b := newTestLink(t, "b")
	if err := a.AttachLocal(newAudioStream(t)); err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if err := b.AttachLocal(newAudioStream(t)); err != nil {
		t.Fatalf("attach b: %v", err)
	}

	// Both sides offer at once.
	if _, err := a.CreateOffer(gatherCtx(t)); err != nil {
		t.Fatalf("a offer: %v", err)
	}
	bOffer, err := b.CreateOffer(gatherCtx(t))
	if err != nil {
		t.Fatalf("b offer: %v", err)
	}

	// a defers: rollback its pending offer and answer b instead.
	if err := a.ApplyOffer(bOffer); err != nil {
		t.Fatalf("apply offer during glare: %v", err)
	}
	answer, err := a.CreateAnswer(gatherCtx(t))
	if err != nil {
		t.Fatalf("answer after rollback: %v", err)
	}
	if err := b.ApplyAnswer(answer); err != nil {
		t.Fatalf("b apply answer: %v", err)
	}
}

func TestPartialOfferOnGatherTimeout(t *testing.T) {
	l := newTestLink(t, "peer")
	if err := l.AttachLocal(newAudioStream(t)); err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	offer, err := l.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.SDP == "" {
		t.Fatal("gather timeout must still produce an offer")
	}
}

func TestAttachLocalIdempotent(t *testing.T) {
	l := newTestLink(t, "peer")
	s := newAudioStream(t)

	if err := l.AttachLocal(s); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := l.AttachLocal(s); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
}

func TestAttachLocalSkipsNonRTPTracks(t *testing.T) {
	l := newTestLink(t, "peer")
	s := &staticStream{tracks: []core.Track{&plainTrack{}}}

	if err := l.AttachLocal(s); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := l.AttachLocal(nil); err != nil {
		t.Fatalf("attach nil: %v", err)
	}
}

type plainTrack struct{}

func (p *plainTrack) Kind() core.TrackKind { return core.KindAudio }

func (p *plainTrack) Enabled() bool { return true }

func (p *plainTrack) SetEnabled(bool) {}

func (p *plainTrack) Stop() {}

func (p *plainTrack) Stopped() bool { return false }

func TestCloseIdempotentAndSuppressesStates(t *testing.T) {
	l := newTestLink(t, "peer")

	var fired []core.LinkState
	l.OnStateChange(func(s core.LinkState) { fired = append(fired, s) })

	l.Close()
	l.Close()

	if l.State() != core.LinkClosed {
		t.Errorf("state = %v, want closed", l.State())
	}
	for _, s := range fired {
		if s == core.LinkClosed || s == core.LinkFailed {
			t.Errorf("deliberate close leaked state callback %v", s)
		}
	}
}
