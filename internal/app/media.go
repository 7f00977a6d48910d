package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/core"
)

// MediaErrorClass is the user-facing classification of an acquisition
// failure. Each class maps to a distinct actionable message.
type MediaErrorClass string

const (
	PermissionDenied MediaErrorClass = "permission_denied"
	DeviceNotFound   MediaErrorClass = "device_not_found"
	DeviceBusy       MediaErrorClass = "device_busy"
	MediaUnknown     MediaErrorClass = "unknown"
)

type MediaError struct {
	Class MediaErrorClass
	Err   error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Class, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// UserMessage is what the UI shows next to the retry affordance.
func (e *MediaError) UserMessage() string {
	switch e.Class {
	case PermissionDenied:
		return "Camera and microphone access is blocked. Allow access in your system settings, then press retry."
	case DeviceNotFound:
		return "No camera or microphone was found. Plug in a device, then press retry."
	case DeviceBusy:
		return "Your camera or microphone is in use by another application. Close it, then press retry."
	default:
		return "Could not start your camera or microphone. Press retry to try again."
	}
}

// ClassifyMediaError maps a raw capture error onto the taxonomy by
// inspecting driver error text. Driver errors are not typed across
// platforms, so substring matching is the stable option here.
func ClassifyMediaError(err error) *MediaError {
	if me, ok := err.(*MediaError); ok {
		return me
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return &MediaError{Class: PermissionDenied, Err: err}
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return &MediaError{Class: DeviceBusy, Err: err}
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no device") ||
		strings.Contains(msg, "no such") || strings.Contains(msg, "failed to find"):
		return &MediaError{Class: DeviceNotFound, Err: err}
	default:
		return &MediaError{Class: MediaUnknown, Err: err}
	}
}

// MediaManager owns the single local capture stream: acquisition with
// audio-only fallback, enable toggles, and release. Never more than one
// live stream at a time.
type MediaManager struct {
	src      core.MediaSource
	cooldown time.Duration

	// onDiagnostic surfaces a persistent, actionable failure to the UI.
	onDiagnostic func(*MediaError)

	mu           sync.Mutex
	stream       core.Stream
	audioEnabled bool
	videoEnabled bool
}

func NewMediaManager(src core.MediaSource, cooldown time.Duration) *MediaManager {
	return &MediaManager{src: src, cooldown: cooldown}
}

func (m *MediaManager) OnDiagnostic(fn func(*MediaError)) { m.onDiagnostic = fn }

// Acquire captures camera+microphone, falling back to audio-only when the
// full request fails. Any previously held stream is stopped first and a
// short cooldown observed so the OS releases the device; skipping this
// produces DeviceBusy on rapid re-join.
func (m *MediaManager) Acquire(ctx context.Context) (core.Stream, error) {
	m.mu.Lock()
	if m.stream != nil {
		stopTracks(m.stream)
		m.stream = nil
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cooldown):
		}
	} else {
		m.mu.Unlock()
	}

	s, err := m.src.Capture(ctx, true)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("video+audio capture failed, trying audio-only")
		s, err = m.src.Capture(ctx, false)
	}
	if err != nil {
		me := ClassifyMediaError(err)
		log.Error().Err(me).Str("module", "media").Str("class", string(me.Class)).Msg("media acquisition failed")
		if m.onDiagnostic != nil {
			m.onDiagnostic(me)
		}
		return nil, me
	}

	m.mu.Lock()
	m.stream = s
	m.audioEnabled = hasKind(s, core.KindAudio)
	m.videoEnabled = hasKind(s, core.KindVideo)
	m.mu.Unlock()
	return s, nil
}

// Retry re-invokes acquisition; the UI calls it after the user acted on a
// diagnostic.
func (m *MediaManager) Retry(ctx context.Context) (core.Stream, error) {
	return m.Acquire(ctx)
}

// Release stops every held track and clears the stream. Idempotent.
func (m *MediaManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	stopTracks(m.stream)
	m.stream = nil
	m.audioEnabled = false
	m.videoEnabled = false
	log.Info().Str("module", "media").Msg("local media released")
}

// Stream returns the currently held stream, nil when none.
func (m *MediaManager) Stream() core.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// ToggleAudio flips the first audio track. No-op without one; reports the
// resulting enabled state.
func (m *MediaManager) ToggleAudio() bool { return m.toggle(core.KindAudio) }

// ToggleVideo flips the first video track.
func (m *MediaManager) ToggleVideo() bool { return m.toggle(core.KindVideo) }

func (m *MediaManager) toggle(kind core.TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false
	}
	for _, t := range m.stream.Tracks() {
		if t.Kind() != kind {
			continue
		}
		t.SetEnabled(!t.Enabled())
		on := t.Enabled()
		if kind == core.KindAudio {
			m.audioEnabled = on
		} else {
			m.videoEnabled = on
		}
		log.Info().Str("module", "media").Str("kind", string(kind)).Bool("enabled", on).Msg("toggled track")
		return on
	}
	return false
}

// Flags reports the audio/video enabled state for snapshots.
func (m *MediaManager) Flags() (audio, video bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioEnabled, m.videoEnabled
}

func stopTracks(s core.Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func hasKind(s core.Stream, kind core.TrackKind) bool {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
