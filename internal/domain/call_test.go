package domain

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestNewCallSession tests session creation invariants
func TestNewCallSession(t *testing.T) {
	chatID := uuid.New()
	initiatorID := uuid.New()

	sess := NewCallSession(chatID, initiatorID, "alice", CallModeDirect, MediaVideo)

	assert.NotEqual(t, uuid.Nil, sess.ID)
	assert.Equal(t, chatID, sess.ChatID)
	assert.Equal(t, CallModeDirect, sess.Mode)
	assert.True(t, sess.IsActive(initiatorID))
	assert.True(t, sess.HasActiveParticipant())
	assert.False(t, sess.Ended())
	assert.Nil(t, sess.EndedAt())
}

// TestEndForcesParticipantsInactive tests that ending zeroes every flag
func TestEndForcesParticipantsInactive(t *testing.T) {
	sess := NewCallSession(uuid.New(), uuid.New(), "alice", CallModeGroup, MediaAudio)
	other := uuid.New()
	sess.SetParticipant(other, true)

	sess.End()

	assert.True(t, sess.Ended())
	assert.NotNil(t, sess.EndedAt())
	assert.False(t, sess.HasActiveParticipant())
	assert.Empty(t, sess.ActiveParticipants())

	// Joining an ended session must not resurrect it
	sess.SetParticipant(uuid.New(), true)
	assert.False(t, sess.HasActiveParticipant())
}

// TestEnsureParticipant tests pending-recipient pre-registration
func TestEnsureParticipant(t *testing.T) {
	sess := NewCallSession(uuid.New(), uuid.New(), "alice", CallModeDirect, MediaVideo)
	callee := uuid.New()

	sess.EnsureParticipant(callee)
	assert.False(t, sess.IsActive(callee))
	assert.Contains(t, sess.ParticipantSnapshot(), callee)

	// Must not downgrade an already-active participant
	sess.SetParticipant(callee, true)
	sess.EnsureParticipant(callee)
	assert.True(t, sess.IsActive(callee))
}

// TestParticipantSnapshotIsCopy tests that snapshots do not alias internal state
func TestParticipantSnapshotIsCopy(t *testing.T) {
	initiator := uuid.New()
	sess := NewCallSession(uuid.New(), initiator, "alice", CallModeGroup, MediaVideo)

	snapshot := sess.ParticipantSnapshot()
	snapshot[initiator] = false

	assert.True(t, sess.IsActive(initiator))
}

// TestConcurrentParticipantMutation tests that the session tolerates
// concurrent mutation from independent handler goroutines
func TestConcurrentParticipantMutation(t *testing.T) {
	sess := NewCallSession(uuid.New(), uuid.New(), "alice", CallModeGroup, MediaAudio)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			sess.SetParticipant(id, true)
			sess.IsActive(id)
			sess.ParticipantSnapshot()
			sess.SetParticipant(id, false)
		}()
	}
	wg.Wait()

	// Only the initiator should remain active
	assert.Len(t, sess.ActiveParticipants(), 1)
}
