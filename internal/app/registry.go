package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

type linkEntry struct {
	link        core.MediaLink
	streamReady bool
}

// Registry owns the peer-link collection: one link per remote participant,
// created, replaced, and torn down only here. CreateOrReplace is the single
// synchronization point preventing two concurrent links for one id.
type Registry struct {
	factory     core.LinkFactory
	relinkDelay time.Duration

	// onLinkDown fires after relinkDelay when a link failed while its
	// participant is presumably still in the session; the coordinator
	// re-offers. onRemoteReady fires on first remote track per link.
	onLinkDown    func(peer domain.UserID)
	onRemoteReady func(peer domain.UserID)

	mu    sync.RWMutex
	links map[domain.UserID]*linkEntry
}

func NewRegistry(factory core.LinkFactory, relinkDelay time.Duration) *Registry {
	return &Registry{
		factory:     factory,
		relinkDelay: relinkDelay,
		links:       make(map[domain.UserID]*linkEntry),
	}
}

func (r *Registry) OnLinkDown(fn func(peer domain.UserID))    { r.onLinkDown = fn }
func (r *Registry) OnRemoteReady(fn func(peer domain.UserID)) { r.onRemoteReady = fn }

// CreateOrReplace builds a fresh link toward peer with the shared local
// stream attached. An existing link for the same id is closed and
// discarded first, so the call is idempotent.
func (r *Registry) CreateOrReplace(peer domain.UserID, local core.Stream) (core.MediaLink, error) {
	r.mu.Lock()
	if old, ok := r.links[peer]; ok {
		log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("replacing existing link")
		old.link.Close()
		delete(r.links, peer)
	}
	r.mu.Unlock()

	link, err := r.factory(peer, local)
	if err != nil {
		return nil, err
	}

	link.OnStateChange(func(s core.LinkState) {
		if s.Terminal() {
			r.linkDown(peer, link, s)
		}
	})
	link.OnRemoteTrack(func() {
		r.markReady(peer, link)
	})

	r.mu.Lock()
	if old, ok := r.links[peer]; ok {
		// Lost a race with a concurrent create for the same peer.
		old.link.Close()
	}
	r.links[peer] = &linkEntry{link: link}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("link created")
	return link, nil
}

func (r *Registry) linkDown(peer domain.UserID, link core.MediaLink, s core.LinkState) {
	r.mu.Lock()
	e, ok := r.links[peer]
	if !ok || e.link != link {
		// A newer link already replaced this one; stale callback.
		r.mu.Unlock()
		return
	}
	delete(r.links, peer)
	r.mu.Unlock()
	link.Close()
	log.Warn().Str("module", "app.registry").Str("peer", string(peer)).Str("state", string(s)).Msg("link down, removed")

	if r.onLinkDown != nil {
		time.AfterFunc(r.relinkDelay, func() { r.onLinkDown(peer) })
	}
}

func (r *Registry) markReady(peer domain.UserID, link core.MediaLink) {
	r.mu.Lock()
	e, ok := r.links[peer]
	if !ok || e.link != link {
		r.mu.Unlock()
		return
	}
	first := !e.streamReady
	e.streamReady = true
	r.mu.Unlock()
	if first && r.onRemoteReady != nil {
		r.onRemoteReady(peer)
	}
}

func (r *Registry) Get(peer domain.UserID) (core.MediaLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.links[peer]; ok {
		return e.link, true
	}
	return nil, false
}

// StreamReady reports whether a remote stream arrived on peer's link; the
// UI shows a connecting placeholder until it does.
func (r *Registry) StreamReady(peer domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.links[peer]
	return ok && e.streamReady
}

func (r *Registry) Remove(peer domain.UserID) {
	r.mu.Lock()
	e, ok := r.links[peer]
	if ok {
		delete(r.links, peer)
	}
	r.mu.Unlock()
	if ok {
		e.link.Close()
		log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("link removed")
	}
}

// RemoveAll closes every link and clears the collection. Used on session end.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	links := r.links
	r.links = make(map[domain.UserID]*linkEntry)
	r.mu.Unlock()
	for peer, e := range links {
		e.link.Close()
		log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("link removed")
	}
}

func (r *Registry) Peers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.links))
	for peer := range r.links {
		out = append(out, peer)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
