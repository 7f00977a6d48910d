package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/adapters/signal"
	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

var (
	ErrNotHost   = errors.New("only the host may end the call")
	ErrNoSession = errors.New("no active session")
)

// Coordinator is the public face of the calling core. It owns the session
// state machine and the local media lifecycle, sequences the registry and
// negotiator, and hands read-only snapshots to the presentation layer.
type Coordinator struct {
	ch     core.SignalChannel
	media  *MediaManager
	reg    *Registry
	neg    *Negotiator
	typing *TypingSet
	self   *domain.User

	onNotice   func(string)
	onIncoming func(signal.RingPayload)

	mu     sync.Mutex
	sid    domain.SessionID
	role   domain.Role
	status domain.CallStatus
	roster map[domain.UserID]*domain.Participant
	// epoch counts session generations; in-flight async work captures the
	// epoch it started under and discards its result on mismatch.
	epoch uint64
}

func NewCoordinator(ch core.SignalChannel, media *MediaManager, reg *Registry, neg *Negotiator, typing *TypingSet, self *domain.User) *Coordinator {
	c := &Coordinator{
		ch:     ch,
		media:  media,
		reg:    reg,
		neg:    neg,
		typing: typing,
		self:   self,
		status: domain.CallIdle,
		roster: make(map[domain.UserID]*domain.Participant),
	}
	reg.OnRemoteReady(c.remoteReady)
	reg.OnLinkDown(c.linkDown)
	return c
}

// OnNotice registers the user-facing notification hook (host ended the
// call, call rejected, and so on).
func (c *Coordinator) OnNotice(fn func(string)) { c.onNotice = fn }

// OnIncomingCall registers the ring handler for invitations received while
// idle.
func (c *Coordinator) OnIncomingCall(fn func(signal.RingPayload)) { c.onIncoming = fn }

func (c *Coordinator) notice(msg string) {
	log.Info().Str("module", "app.coordinator").Msg(msg)
	if c.onNotice != nil {
		c.onNotice(msg)
	}
}

// Listen attaches the session-independent event handlers. Call once after
// the signaling channel is connected.
func (c *Coordinator) Listen() {
	c.ch.On(signal.EventIncomingCall, func(payload []byte) {
		var p signal.RingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad ring payload")
			return
		}
		c.notice("incoming call from " + p.CallerName)
		if c.onIncoming != nil {
			c.onIncoming(p)
		}
	})
	c.ch.On(signal.EventCallAccepted, func(payload []byte) {
		c.notice("call accepted")
	})
	c.ch.On(signal.EventCallRejected, func(payload []byte) {
		c.notice("call rejected")
	})
	c.ch.On(signal.EventTyping, func(payload []byte) {
		var p signal.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		c.typing.Touch(p.UserID)
	})
	c.ch.On(signal.EventStopTyping, func(payload []byte) {
		var p signal.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		c.typing.Remove(p.UserID)
	})
}

// Initiate starts a session as host: acquire media, announce, ring the
// other side. Status goes to connecting and flips to connected once the
// first remote track arrives.
func (c *Coordinator) Initiate(ctx context.Context, sid domain.SessionID) error {
	return c.start(ctx, sid, domain.RoleHost)
}

// Join enters an existing session as participant.
func (c *Coordinator) Join(ctx context.Context, sid domain.SessionID) error {
	return c.start(ctx, sid, domain.RoleParticipant)
}

func (c *Coordinator) start(ctx context.Context, sid domain.SessionID, role domain.Role) error {
	c.mu.Lock()
	active := c.status == domain.CallConnecting || c.status == domain.CallConnected
	c.mu.Unlock()
	if active {
		// One session at a time: a new request tears the old one down first.
		c.departAndTeardown(domain.CallEnded)
	}

	c.mu.Lock()
	c.epoch++
	e := c.epoch
	c.sid = sid
	c.role = role
	c.status = domain.CallConnecting
	c.roster = make(map[domain.UserID]*domain.Participant)
	c.mu.Unlock()

	if _, err := c.media.Acquire(ctx); err != nil {
		c.mu.Lock()
		if c.epoch == e {
			c.status = domain.CallFailed
			c.sid = ""
		}
		c.mu.Unlock()
		return err
	}
	if !c.aliveEpoch(e) {
		// Session was torn down while media acquisition was in flight.
		c.media.Release()
		return nil
	}

	c.neg.Bind(sid, func() bool { return c.aliveEpoch(e) })
	c.subscribeSession()

	_ = c.ch.Send(signal.EventJoin, signal.RoomPayload{ChatID: sid, UserID: c.self.ID})
	_ = c.ch.Send(signal.EventJoinCall, signal.CallMemberPayload{
		ChatID:   sid,
		UserID:   c.self.ID,
		Username: c.self.DisplayName,
		Role:     role,
	})
	if role == domain.RoleHost {
		_ = c.ch.Send(signal.EventInitiateCall, signal.RingPayload{
			ChatID:     sid,
			CallerID:   c.self.ID,
			CallerName: c.self.DisplayName,
		})
	}
	log.Info().Str("module", "app.coordinator").Str("session", string(sid)).Str("role", string(role)).Msg("session started")
	return nil
}

// AcceptIncoming answers a ring: notify the caller, then join.
func (c *Coordinator) AcceptIncoming(ctx context.Context, sid domain.SessionID) error {
	_ = c.ch.Send(signal.EventAcceptCall, signal.AcceptPayload{ChatID: sid, AccepterID: c.self.ID})
	return c.Join(ctx, sid)
}

// RejectIncoming declines a ring without starting a session.
func (c *Coordinator) RejectIncoming(sid domain.SessionID) {
	_ = c.ch.Send(signal.EventRejectCall, signal.RejectPayload{ChatID: sid, RejecterID: c.self.ID})
}

// End terminates the whole session. Host only: the end notice is
// authoritative and every participant tears down on receipt.
func (c *Coordinator) End(sid domain.SessionID) error {
	c.mu.Lock()
	if c.sid != sid || c.status == domain.CallIdle {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.role != domain.RoleHost {
		c.mu.Unlock()
		return ErrNotHost
	}
	c.mu.Unlock()

	_ = c.ch.Send(signal.EventEndCall, signal.EndPayload{ChatID: sid, UserID: c.self.ID, Role: domain.RoleHost})
	c.teardown(domain.CallEnded)
	return nil
}

// Leave departs without ending the session for others.
func (c *Coordinator) Leave(sid domain.SessionID) error {
	c.mu.Lock()
	if c.sid != sid || c.status == domain.CallIdle {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.mu.Unlock()

	c.departAndTeardown(domain.CallEnded)
	return nil
}

func (c *Coordinator) departAndTeardown(status domain.CallStatus) {
	c.mu.Lock()
	sid := c.sid
	role := c.role
	c.mu.Unlock()
	if sid == "" {
		return
	}
	if role == domain.RoleHost {
		_ = c.ch.Send(signal.EventEndCall, signal.EndPayload{ChatID: sid, UserID: c.self.ID, Role: role})
	} else {
		_ = c.ch.Send(signal.EventUserLeftCall, signal.CallMemberPayload{
			ChatID:   sid,
			UserID:   c.self.ID,
			Username: c.self.DisplayName,
			Role:     role,
		})
		_ = c.ch.Send(signal.EventLeave, signal.RoomPayload{ChatID: sid, UserID: c.self.ID})
	}
	c.teardown(status)
}

// teardown is the universal cancellation signal: it invalidates the epoch,
// closes every link, and stops local media synchronously. In-flight
// negotiation work notices the epoch change and discards its results.
func (c *Coordinator) teardown(status domain.CallStatus) {
	c.mu.Lock()
	c.epoch++
	c.sid = ""
	c.roster = make(map[domain.UserID]*domain.Participant)
	c.status = status
	c.mu.Unlock()

	c.unsubscribeSession()
	c.reg.RemoveAll()
	c.media.Release()
	log.Info().Str("module", "app.coordinator").Str("status", string(status)).Msg("session torn down")
}

// Reconnect re-offers to every roster member without touching local media.
// Renegotiating an already-healthy link is idempotent, so no filtering.
// Offers run on a background context: they outlive the request that asked
// for them.
func (c *Coordinator) Reconnect(_ context.Context) error {
	c.mu.Lock()
	if c.sid == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	peers := make([]domain.UserID, 0, len(c.roster))
	for id := range c.roster {
		peers = append(peers, id)
	}
	c.mu.Unlock()

	for _, peer := range peers {
		go c.neg.SendOffer(context.Background(), peer)
	}
	return nil
}

// RetryMedia re-runs device acquisition after the user acted on a media
// diagnostic. The fresh tracks are then renegotiated over every live link.
func (c *Coordinator) RetryMedia(ctx context.Context) error {
	if _, err := c.media.Retry(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	active := c.status == domain.CallConnecting || c.status == domain.CallConnected
	c.mu.Unlock()
	if !active {
		return nil
	}
	for _, peer := range c.reg.Peers() {
		go c.neg.SendOffer(context.Background(), peer)
	}
	return nil
}

func (c *Coordinator) aliveEpoch(e uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == e && (c.status == domain.CallConnecting || c.status == domain.CallConnected)
}

func (c *Coordinator) remoteReady(peer domain.UserID) {
	c.mu.Lock()
	if c.status == domain.CallConnecting {
		c.status = domain.CallConnected
	}
	c.mu.Unlock()
	log.Info().Str("module", "app.coordinator").Str("peer", string(peer)).Msg("remote stream ready")
}

// linkDown runs after the registry's relink delay. Membership decides the
// response: a peer still on the roster gets a fresh offer, a departed one
// is left alone.
func (c *Coordinator) linkDown(peer domain.UserID) {
	c.mu.Lock()
	_, member := c.roster[peer]
	active := c.status == domain.CallConnecting || c.status == domain.CallConnected
	c.mu.Unlock()
	if !active || !member {
		return
	}
	log.Info().Str("module", "app.coordinator").Str("peer", string(peer)).Msg("reconnecting failed link")
	go c.neg.SendOffer(context.Background(), peer)
}

func (c *Coordinator) subscribeSession() {
	c.ch.On(signal.EventJoinCall, c.handleUserJoined)
	c.ch.On(signal.EventUserLeftCall, c.handleUserLeft)
	c.ch.On(signal.EventCallEnded, c.handleCallEnded)
	c.ch.On(signal.EventOffer, func(payload []byte) {
		var p signal.OfferPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad offer payload")
			return
		}
		if p.ToUserID != c.self.ID {
			return
		}
		c.ensureRostered(p.ChatID, p.FromUserID)
		go c.neg.HandleOffer(context.Background(), p)
	})
	c.ch.On(signal.EventAnswer, func(payload []byte) {
		var p signal.AnswerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad answer payload")
			return
		}
		if p.ToUserID != c.self.ID {
			return
		}
		c.neg.HandleAnswer(p)
	})
	c.ch.On(signal.EventICECandidate, func(payload []byte) {
		var p signal.CandidatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad candidate payload")
			return
		}
		if p.ToUserID != c.self.ID {
			return
		}
		c.neg.HandleCandidate(p)
	})
}

func (c *Coordinator) unsubscribeSession() {
	c.ch.Off(signal.EventJoinCall)
	c.ch.Off(signal.EventUserLeftCall)
	c.ch.Off(signal.EventCallEnded)
	c.ch.Off(signal.EventOffer)
	c.ch.Off(signal.EventAnswer)
	c.ch.Off(signal.EventICECandidate)
}

// ensureRostered admits a peer whose first sign of life is an offer. A
// later joiner hears about existing members through their offers, not
// through join notices, so arrival order must not decide membership. The
// display name stays the raw ID until a join notice supplies a better one.
func (c *Coordinator) ensureRostered(sid domain.SessionID, peer domain.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sid != sid || peer == c.self.ID {
		return
	}
	if _, ok := c.roster[peer]; ok {
		return
	}
	c.roster[peer] = domain.NewParticipant(peer, string(peer), domain.RoleParticipant)
	log.Info().Str("module", "app.coordinator").Str("peer", string(peer)).Msg("rostered offer sender")
}

// handleUserJoined: the later joiner's arrival notice is the trigger for
// everyone already present to initiate toward it, so every pairwise link
// is established exactly once regardless of join order.
func (c *Coordinator) handleUserJoined(payload []byte) {
	var p signal.CallMemberPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("bad join payload")
		return
	}
	if p.UserID == c.self.ID {
		return
	}
	c.mu.Lock()
	if c.sid != p.ChatID {
		c.mu.Unlock()
		return
	}
	c.roster[p.UserID] = domain.NewParticipant(p.UserID, p.Username, p.Role)
	c.mu.Unlock()
	log.Info().Str("module", "app.coordinator").Str("peer", string(p.UserID)).Msg("participant joined")

	go c.neg.SendOffer(context.Background(), p.UserID)
}

func (c *Coordinator) handleUserLeft(payload []byte) {
	var p signal.CallMemberPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("bad leave payload")
		return
	}
	c.mu.Lock()
	delete(c.roster, p.UserID)
	c.mu.Unlock()
	c.reg.Remove(p.UserID)
	log.Info().Str("module", "app.coordinator").Str("peer", string(p.UserID)).Msg("participant left")
}

// handleCallEnded enforces host authority: the host's end notice tears
// this client down identically, because a call cannot continue without
// its host.
func (c *Coordinator) handleCallEnded(payload []byte) {
	var p signal.EndPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("bad end payload")
		return
	}
	c.mu.Lock()
	match := c.sid == p.ChatID
	c.mu.Unlock()
	if !match {
		return
	}
	if p.Role != domain.RoleHost {
		// Non-host departure arriving on the end channel: drop just them.
		c.mu.Lock()
		delete(c.roster, p.UserID)
		c.mu.Unlock()
		c.reg.Remove(p.UserID)
		return
	}
	c.notice("host ended the call")
	c.teardown(domain.CallEnded)
}

// Snapshot returns a copy of the coordinator state for the presentation
// layer. The UI never mutates state directly; it calls operations.
func (c *Coordinator) Snapshot() core.SessionSnapshot {
	audio, video := c.media.Flags()
	c.mu.Lock()
	snap := core.SessionSnapshot{
		SessionID:    c.sid,
		Role:         c.role,
		Status:       c.status,
		AudioEnabled: audio,
		VideoEnabled: video,
		Participants: make([]core.ParticipantDTO, 0, len(c.roster)),
	}
	roster := make([]*domain.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		roster = append(roster, p)
	}
	c.mu.Unlock()

	for _, p := range roster {
		snap.Participants = append(snap.Participants, core.ParticipantDTO{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			StreamReady: c.reg.StreamReady(p.ID),
		})
	}
	snap.Online = c.ch.Online()
	return snap
}

// Typing returns who is typing right now.
func (c *Coordinator) Typing() []domain.UserID { return c.typing.Active() }

// ToggleAudio flips the local audio track; reports the new enabled state.
func (c *Coordinator) ToggleAudio() bool { return c.media.ToggleAudio() }

// ToggleVideo flips the local video track.
func (c *Coordinator) ToggleVideo() bool { return c.media.ToggleVideo() }
