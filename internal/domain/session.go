package domain

type SessionID string

// CallStatus is the coordinator's top-level lifecycle state.
// Keep values stable because they are part of the control API.
type CallStatus string

const (
	CallIdle       CallStatus = "idle"
	CallConnecting CallStatus = "connecting"
	CallConnected  CallStatus = "connected"
	CallEnded      CallStatus = "ended"
	CallFailed     CallStatus = "failed"
)

// Participant represents one remote user known to the session roster.
// Membership is independent of connectivity: a participant stays on the
// roster while its peer link reconnects.
type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

func NewParticipant(id UserID, displayName string, role Role) *Participant {
	return &Participant{ID: id, DisplayName: displayName, Role: role}
}
