package domain

import (
	"time"

	"github.com/google/uuid"
)

// SignalKind identifies one step of call setup, teardown or control.
// The set is closed; transport adapters must not invent new kinds.
type SignalKind string

const (
	SignalOffer              SignalKind = "offer"
	SignalAnswer             SignalKind = "answer"
	SignalIceCandidate       SignalKind = "ice_candidate"
	SignalCallStarted        SignalKind = "call_started"
	SignalCallEnded          SignalKind = "call_ended"
	SignalCallRejected       SignalKind = "call_rejected"
	SignalCallMissed         SignalKind = "call_missed"
	SignalCallAccepted       SignalKind = "call_accepted"
	SignalCallBusy           SignalKind = "call_busy"
	SignalRoomCreated        SignalKind = "room_created"
	SignalRoomInvite         SignalKind = "room_invite"
	SignalRoomJoined         SignalKind = "room_joined"
	SignalRoomLeft           SignalKind = "room_left"
	SignalRoomInfo           SignalKind = "room_info"
	SignalCallNotification   SignalKind = "call_notification"
	SignalCallInvite         SignalKind = "call_invite"
	SignalToggleAudio        SignalKind = "toggle_audio"
	SignalToggleVideo        SignalKind = "toggle_video"
	SignalScreenShareStarted SignalKind = "screen_share_started"
	SignalScreenShareEnded   SignalKind = "screen_share_ended"
)

// SignalPayload is the tagged payload variant attached to an event.
// SDP blobs and ICE candidates are opaque; they are relayed verbatim and
// never parsed.
type SignalPayload interface {
	isSignalPayload()
}

// OfferPayload carries an SDP offer blob
type OfferPayload struct {
	SDP string `json:"sdp"`
}

// AnswerPayload carries an SDP answer blob
type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries one ICE candidate
type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// TogglePayload carries a media toggle flag (mute / unmute, share on / off)
type TogglePayload struct {
	Enabled bool `json:"enabled"`
}

func (OfferPayload) isSignalPayload()     {}
func (AnswerPayload) isSignalPayload()    {}
func (CandidatePayload) isSignalPayload() {}
func (TogglePayload) isSignalPayload()    {}

// SignalEvent is a transient signaling message. It is never persisted;
// it exists only on its way from the engine to the delivery gateway.
type SignalEvent struct {
	Kind       SignalKind `json:"kind"`
	ChatID     uuid.UUID  `json:"chat_id"`
	SessionID  uuid.UUID  `json:"session_id"`
	SenderID   uuid.UUID  `json:"sender_id"`
	SenderName string     `json:"sender_name,omitempty"`
	Mode       CallMode   `json:"mode,omitempty"`
	Media      MediaKind  `json:"media,omitempty"`

	// Payload is the kind-specific variant; nil for pure notifications
	Payload SignalPayload `json:"payload,omitempty"`

	// Participants is a roster snapshot attached to session-notification
	// events (userID -> currently active)
	Participants map[uuid.UUID]bool `json:"participants,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewSignalEvent builds an event stamped with the current time
func NewSignalEvent(kind SignalKind, sess *CallSession, senderID uuid.UUID, senderName string) *SignalEvent {
	return &SignalEvent{
		Kind:       kind,
		ChatID:     sess.ChatID,
		SessionID:  sess.ID,
		SenderID:   senderID,
		SenderName: senderName,
		Mode:       sess.Mode,
		Media:      sess.Media,
		Timestamp:  time.Now(),
	}
}

// WithRoster attaches the session's participant snapshot
func (e *SignalEvent) WithRoster(sess *CallSession) *SignalEvent {
	e.Participants = sess.ParticipantSnapshot()
	return e
}

// WithPayload attaches a typed payload variant
func (e *SignalEvent) WithPayload(p SignalPayload) *SignalEvent {
	e.Payload = p
	return e
}

// IncomingCallKind reports whether an event of this kind should ring the
// recipient's device when they have no live connection
func IncomingCallKind(kind SignalKind) bool {
	switch kind {
	case SignalOffer, SignalCallNotification, SignalCallInvite:
		return true
	default:
		return false
	}
}
