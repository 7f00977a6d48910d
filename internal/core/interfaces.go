package core

import "github.com/edulive/rtcmesh/internal/domain"

// EventHandler consumes one decoded signaling payload.
type EventHandler func(payload []byte)

// SignalChannel abstracts the relay-backed signaling transport.
// Owned by the adapter; the adapter must Close() it and detach every
// registered handler before the socket goes away.
type SignalChannel interface {
	Send(event string, v any) error
	On(event string, h EventHandler)
	Off(event string)
	Online() []domain.UserID
	Close()
}

// ParticipantDTO is a read-only view for the control API (no transport fields).
type ParticipantDTO struct {
	ID          domain.UserID `json:"id"`
	DisplayName string        `json:"displayName"`
	Role        domain.Role   `json:"role"`
	// StreamReady reports whether a remote stream has arrived; the UI shows
	// a connecting placeholder until it flips.
	StreamReady bool `json:"streamReady"`
}

// SessionSnapshot is the coordinator state exposed to the presentation
// layer. Always a copy; callers never see live internals.
type SessionSnapshot struct {
	SessionID    domain.SessionID  `json:"sessionId"`
	Role         domain.Role       `json:"role"`
	Status       domain.CallStatus `json:"status"`
	AudioEnabled bool              `json:"audioEnabled"`
	VideoEnabled bool              `json:"videoEnabled"`
	Participants []ParticipantDTO  `json:"participants"`
	Online       []domain.UserID   `json:"online"`
}
