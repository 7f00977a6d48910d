package app

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/adapters/signal"
	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

// Negotiator runs the offer/answer/candidate exchange for every link in
// the registry. Per-link ordering comes from the link's own signaling
// state checks, not from transport ordering; links toward different
// participants progress independently.
type Negotiator struct {
	ch    core.SignalChannel
	reg   *Registry
	media *MediaManager
	self  domain.UserID

	gatherTimeout time.Duration
	retryDelay    time.Duration

	mu    sync.RWMutex
	sid   domain.SessionID
	alive func() bool
}

func NewNegotiator(ch core.SignalChannel, reg *Registry, media *MediaManager, self domain.UserID, gatherTimeout, retryDelay time.Duration) *Negotiator {
	return &Negotiator{
		ch:            ch,
		reg:           reg,
		media:         media,
		self:          self,
		gatherTimeout: gatherTimeout,
		retryDelay:    retryDelay,
	}
}

// Bind attaches the negotiator to the active session. alive is checked
// after every suspension point so results of in-flight work are discarded
// once the session ended.
func (n *Negotiator) Bind(sid domain.SessionID, alive func() bool) {
	n.mu.Lock()
	n.sid = sid
	n.alive = alive
	n.mu.Unlock()
}

func (n *Negotiator) session() (domain.SessionID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.alive == nil {
		return "", false
	}
	return n.sid, n.alive()
}

// ensureLink returns the existing link for peer or creates one with
// candidate trickling and renegotiation wired up.
func (n *Negotiator) ensureLink(peer domain.UserID) (core.MediaLink, error) {
	if link, ok := n.reg.Get(peer); ok {
		return link, nil
	}
	link, err := n.reg.CreateOrReplace(peer, n.media.Stream())
	if err != nil {
		return nil, err
	}
	link.OnCandidate(func(c webrtc.ICECandidateInit) {
		sid, ok := n.session()
		if !ok {
			return
		}
		_ = n.ch.Send(signal.EventICECandidate, signal.CandidatePayload{
			ChatID:     sid,
			ToUserID:   peer,
			FromUserID: n.self,
			Candidate:  c,
		})
	})
	link.OnNegotiationNeeded(func() {
		go n.SendOffer(context.Background(), peer)
	})
	return link, nil
}

// SendOffer drives one offer toward peer: create, wait for ICE gathering
// bounded by the gather timeout, send. A failed attempt is retried once
// after the retry delay; after that the link is dropped and the rest of
// the session continues.
func (n *Negotiator) SendOffer(ctx context.Context, peer domain.UserID) {
	sid, ok := n.session()
	if !ok {
		return
	}
	link, err := n.ensureLink(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(peer)).Msg("link create failed")
		return
	}

	if err := n.offerOnce(ctx, sid, peer, link); err == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(n.retryDelay):
	}
	if _, ok := n.session(); !ok {
		return
	}
	if err := n.offerOnce(ctx, sid, peer, link); err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(peer)).Msg("offer retry failed, dropping link")
		n.reg.Remove(peer)
	}
}

func (n *Negotiator) offerOnce(ctx context.Context, sid domain.SessionID, peer domain.UserID, link core.MediaLink) error {
	// Re-attach before offering so a renegotiation carries new tracks.
	if err := link.AttachLocal(n.media.Stream()); err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(ctx, n.gatherTimeout)
	defer cancel()
	offer, err := link.CreateOffer(gctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.negotiator").Str("peer", string(peer)).Msg("create offer failed")
		return err
	}
	if _, ok := n.session(); !ok {
		return nil
	}
	return n.ch.Send(signal.EventOffer, signal.OfferPayload{
		ChatID:     sid,
		ToUserID:   peer,
		FromUserID: n.self,
		Offer:      offer,
	})
}

// HandleOffer answers an incoming offer, deferring to it when local
// signaling is mid-offer (glare). Local tracks are re-attached before the
// answer so renegotiations pick up new tracks.
func (n *Negotiator) HandleOffer(ctx context.Context, p signal.OfferPayload) {
	sid, ok := n.session()
	if !ok || p.ChatID != sid {
		return
	}
	link, err := n.ensureLink(p.FromUserID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("link create failed")
		return
	}

	if err := n.answerOnce(ctx, sid, p, link); err == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(n.retryDelay):
	}
	if _, ok := n.session(); !ok {
		return
	}
	if err := n.answerOnce(ctx, sid, p, link); err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("answer retry failed, dropping link")
		n.reg.Remove(p.FromUserID)
	}
}

func (n *Negotiator) answerOnce(ctx context.Context, sid domain.SessionID, p signal.OfferPayload, link core.MediaLink) error {
	if err := link.ApplyOffer(p.Offer); err != nil {
		log.Warn().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("apply offer failed")
		return err
	}
	if err := link.AttachLocal(n.media.Stream()); err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(ctx, n.gatherTimeout)
	defer cancel()
	answer, err := link.CreateAnswer(gctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("create answer failed")
		return err
	}
	if _, ok := n.session(); !ok {
		return nil
	}
	return n.ch.Send(signal.EventAnswer, signal.AnswerPayload{
		ChatID:     sid,
		ToUserID:   p.FromUserID,
		FromUserID: n.self,
		Answer:     answer,
	})
}

// HandleAnswer applies a remote answer; the link refuses it when no offer
// is outstanding.
func (n *Negotiator) HandleAnswer(p signal.AnswerPayload) {
	sid, ok := n.session()
	if !ok || p.ChatID != sid {
		return
	}
	link, ok := n.reg.Get(p.FromUserID)
	if !ok {
		log.Debug().Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("answer for unknown link, dropped")
		return
	}
	if err := link.ApplyAnswer(p.Answer); err != nil {
		log.Warn().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("apply answer failed")
	}
}

// HandleCandidate applies a trickled candidate. Candidates for a peer with
// no link arrived out of order or after teardown and are dropped.
func (n *Negotiator) HandleCandidate(p signal.CandidatePayload) {
	sid, ok := n.session()
	if !ok || p.ChatID != sid {
		return
	}
	link, ok := n.reg.Get(p.FromUserID)
	if !ok {
		log.Debug().Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("candidate for unknown link, dropped")
		return
	}
	if err := link.AddCandidate(p.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "app.negotiator").Str("peer", string(p.FromUserID)).Msg("add candidate failed")
	}
}
