package app

import (
	"context"
	"sync"
	"time"

	"github.com/edulive/rtcmesh/internal/domain"
)

const (
	typingTTL      = 3 * time.Second
	typingSweepGap = 1 * time.Second
)

// TypingSet tracks who is currently typing. Entries expire after the TTL;
// a background sweeper prunes them so the set converges even without
// reads.
type TypingSet struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[domain.UserID]time.Time
}

func NewTypingSet() *TypingSet {
	return &TypingSet{
		ttl:     typingTTL,
		now:     time.Now,
		entries: make(map[domain.UserID]time.Time),
	}
}

// Touch records typing activity for uid, refreshing its expiry.
func (t *TypingSet) Touch(uid domain.UserID) {
	t.mu.Lock()
	t.entries[uid] = t.now()
	t.mu.Unlock()
}

// Remove clears uid immediately (explicit stop-typing notice).
func (t *TypingSet) Remove(uid domain.UserID) {
	t.mu.Lock()
	delete(t.entries, uid)
	t.mu.Unlock()
}

// Active returns the ids whose entries are still within the TTL.
func (t *TypingSet) Active() []domain.UserID {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.UserID, 0, len(t.entries))
	for uid, at := range t.entries {
		if at.After(cutoff) {
			out = append(out, uid)
		}
	}
	return out
}

func (t *TypingSet) prune() {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	for uid, at := range t.entries {
		if !at.After(cutoff) {
			delete(t.entries, uid)
		}
	}
}

// RunSweeper prunes expired entries every second until ctx is done.
func (t *TypingSet) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(typingSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.prune()
		}
	}
}
