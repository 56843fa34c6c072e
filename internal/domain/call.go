package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallMode distinguishes one-to-one calls from open group calls
type CallMode string

const (
	CallModeDirect CallMode = "direct"
	CallModeGroup  CallMode = "group"
)

// MediaKind represents the media type of a call
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallSession is one live audio/video call bound to a chat.
// Mode is derived from the chat once at creation and never changes.
// The participants map holds userID -> "currently active"; a false entry means
// the user left or was pre-registered as a pending recipient.
type CallSession struct {
	ID            uuid.UUID `json:"session_id"`
	ChatID        uuid.UUID `json:"chat_id"`
	InitiatorID   uuid.UUID `json:"initiator_id"`
	InitiatorName string    `json:"initiator_name"`
	Mode          CallMode  `json:"mode"`
	Media         MediaKind `json:"media"`
	StartedAt     time.Time `json:"started_at"`

	mu           sync.RWMutex
	endedAt      *time.Time
	participants map[uuid.UUID]bool
	lastActivity time.Time
	established  bool
}

// NewCallSession creates a session with the initiator registered as active
func NewCallSession(chatID, initiatorID uuid.UUID, initiatorName string, mode CallMode, media MediaKind) *CallSession {
	now := time.Now()
	return &CallSession{
		ID:            uuid.New(),
		ChatID:        chatID,
		InitiatorID:   initiatorID,
		InitiatorName: initiatorName,
		Mode:          mode,
		Media:         media,
		StartedAt:     now,
		participants:  map[uuid.UUID]bool{initiatorID: true},
		lastActivity:  now,
	}
}

// SetParticipant marks a user active or inactive. Adding participants to an
// ended session is a no-op.
func (s *CallSession) SetParticipant(userID uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt != nil && active {
		return
	}
	s.participants[userID] = active
	s.lastActivity = time.Now()
	if active && userID != s.InitiatorID {
		s.established = true
	}
}

// EnsureParticipant pre-registers a user as a pending recipient if not yet
// listed, so later ICE candidates can be attributed before they answer
func (s *CallSession) EnsureParticipant(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userID]; !ok && s.endedAt == nil {
		s.participants[userID] = false
	}
}

// IsActive reports whether the user is currently active in the session
func (s *CallSession) IsActive(userID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[userID]
}

// HasActiveParticipant reports whether anyone is still in the call
func (s *CallSession) HasActiveParticipant() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, active := range s.participants {
		if active {
			return true
		}
	}
	return false
}

// ActiveParticipants returns the IDs of currently active participants
func (s *CallSession) ActiveParticipants() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.participants))
	for id, active := range s.participants {
		if active {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParticipantSnapshot returns a copy of the participant map for event payloads
func (s *CallSession) ParticipantSnapshot() map[uuid.UUID]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[uuid.UUID]bool, len(s.participants))
	for id, active := range s.participants {
		snapshot[id] = active
	}
	return snapshot
}

// End marks the session terminated and forces every participant flag to false.
// Safe to call more than once.
func (s *CallSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt == nil {
		now := time.Now()
		s.endedAt = &now
	}
	for id := range s.participants {
		s.participants[id] = false
	}
}

// Ended reports whether End has been called
func (s *CallSession) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt != nil
}

// EndedAt returns the termination time, or nil for a live session
func (s *CallSession) EndedAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.endedAt == nil {
		return nil
	}
	t := *s.endedAt
	return &t
}

// Touch records signaling activity; the registry sweeper uses this to reap
// sessions nobody is talking to anymore
func (s *CallSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleSince returns the time of the last signaling activity
func (s *CallSession) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Established reports whether anyone besides the initiator ever answered.
// An established call exchanges no signaling while media flows, so going
// quiet is normal; only never-established sessions count as abandoned.
func (s *CallSession) Established() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.established
}
