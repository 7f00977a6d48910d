package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/domain"
)

// Event names routed through the relay. The relay forwards these between
// clients without understanding payload contents.
const (
	EventJoin         = "join"
	EventLeave        = "leave"
	EventJoinCall     = "joinVideoCall"
	EventUserLeftCall = "userLeftCall"
	EventInitiateCall = "initiateCall"
	EventIncomingCall = "incomingCall"
	EventAcceptCall   = "acceptCall"
	EventCallAccepted = "callAccepted"
	EventRejectCall   = "rejectCall"
	EventCallRejected = "callRejected"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventEndCall      = "endVideoCall"
	EventCallEnded    = "videoCallEnded"
	EventOnlineUsers  = "getOnlineUsers"
	EventForceLogout  = "forceLogout"
	EventTyping       = "typing"
	EventStopTyping   = "stopTyping"
)

// Envelope is the wire frame for every signaling message.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomPayload struct {
	ChatID domain.SessionID `json:"chatId"`
	UserID domain.UserID    `json:"userId"`
}

type CallMemberPayload struct {
	ChatID   domain.SessionID `json:"chatId"`
	UserID   domain.UserID    `json:"userId"`
	Username string           `json:"username"`
	Role     domain.Role      `json:"role"`
}

type RingPayload struct {
	ChatID     domain.SessionID `json:"chatId"`
	CallerID   domain.UserID    `json:"callerId"`
	CallerName string           `json:"callerName"`
}

type AcceptPayload struct {
	ChatID     domain.SessionID `json:"chatId"`
	AccepterID domain.UserID    `json:"accepterId"`
}

type RejectPayload struct {
	ChatID     domain.SessionID `json:"chatId"`
	RejecterID domain.UserID    `json:"rejecterId"`
}

type OfferPayload struct {
	ChatID     domain.SessionID          `json:"chatId"`
	ToUserID   domain.UserID             `json:"toUserId"`
	FromUserID domain.UserID             `json:"fromUserId"`
	Offer      webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	ChatID     domain.SessionID          `json:"chatId"`
	ToUserID   domain.UserID             `json:"toUserId"`
	FromUserID domain.UserID             `json:"fromUserId"`
	Answer     webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	ChatID     domain.SessionID        `json:"chatId"`
	ToUserID   domain.UserID           `json:"toUserId"`
	FromUserID domain.UserID           `json:"fromUserId"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

type EndPayload struct {
	ChatID domain.SessionID `json:"chatId"`
	UserID domain.UserID    `json:"userId"`
	Role   domain.Role      `json:"role"`
}

type TypingPayload struct {
	ChatID domain.SessionID `json:"chatId"`
	UserID domain.UserID    `json:"userId"`
}

type LogoutPayload struct {
	Reason string `json:"reason"`
}
