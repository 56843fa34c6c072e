package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"teamboard-backend/internal/domain"
	"teamboard-backend/pkg/logger"
)

func init() {
	logger.InitDefault("registry-test")
}

func newTestSession(chatID uuid.UUID) *domain.CallSession {
	return domain.NewCallSession(chatID, uuid.New(), "alice", domain.CallModeDirect, domain.MediaVideo)
}

// TestCreateOrAttach tests that the second start for a chat attaches
func TestCreateOrAttach(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	first, attached, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)
	assert.False(t, attached)
	assert.NotNil(t, first)

	second, attached, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		t.Fatal("build must not be called when a live session exists")
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, first.ID, second.ID)
}

// TestCreateOrAttachConcurrent tests that racing starts yield one session
func TestCreateOrAttachConcurrent(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	const callers = 16
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
				return newTestSession(chatID)
			})
			assert.NoError(t, err)
			ids <- sess.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "all callers must land on the same session")

	n, err := reg.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestLookup tests primary lookup, chat binding check, and chat-index fallback
func TestLookup(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	sess, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)

	found, err := reg.Lookup(ctx, sess.ID, chatID)
	assert.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	// Stale or forged session id still resolves through the chat index
	found, err = reg.Lookup(ctx, uuid.New(), chatID)
	assert.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	// Unknown chat reports not-found
	_, err = reg.Lookup(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestRemoveIdempotent tests that Remove tolerates absent entries
func TestRemoveIdempotent(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	sess, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)

	assert.NoError(t, reg.Remove(ctx, sess.ID, chatID))
	_, err = reg.Lookup(ctx, sess.ID, chatID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Second remove is a no-op
	assert.NoError(t, reg.Remove(ctx, sess.ID, chatID))

	n, err := reg.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestRemoveKeepsNewerChatEntry tests that removing a stale session does not
// evict a newer session for the same chat
func TestRemoveKeepsNewerChatEntry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	old, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)
	assert.NoError(t, reg.Remove(ctx, old.ID, chatID))

	fresh, attached, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)
	assert.False(t, attached)

	// Removing the old id again must not touch the fresh session
	assert.NoError(t, reg.Remove(ctx, old.ID, chatID))

	found, err := reg.Lookup(ctx, fresh.ID, chatID)
	assert.NoError(t, err)
	assert.Equal(t, fresh.ID, found.ID)
}

// TestSweepReapsIdleSessions tests the idle-expiry sweep
func TestSweepReapsIdleSessions(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	abandonedChat := uuid.New()
	abandoned, _, err := reg.CreateOrAttach(ctx, abandonedChat, func() *domain.CallSession {
		return newTestSession(abandonedChat)
	})
	assert.NoError(t, err)

	busyChat := uuid.New()
	busy, _, err := reg.CreateOrAttach(ctx, busyChat, func() *domain.CallSession {
		return newTestSession(busyChat)
	})
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	busy.Touch()

	reaped := reg.sweep(10 * time.Millisecond)
	assert.Equal(t, 1, reaped)

	_, err = reg.Lookup(ctx, abandoned.ID, abandonedChat)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = reg.Lookup(ctx, busy.ID, busyChat)
	assert.NoError(t, err)
	assert.True(t, abandoned.Ended())
}

// TestSweepSparesEstablishedSessions tests that a call both sides are in
// survives the idle sweep: an established call produces no signaling while
// media flows, so silence must not end it
func TestSweepSparesEstablishedSessions(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	sess, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)

	// Callee answered; the call is established and then goes quiet
	sess.SetParticipant(uuid.New(), true)
	time.Sleep(20 * time.Millisecond)

	reaped := reg.sweep(10 * time.Millisecond)
	assert.Equal(t, 0, reaped)

	found, err := reg.Lookup(ctx, sess.ID, chatID)
	assert.NoError(t, err)
	assert.True(t, found.HasActiveParticipant())
	assert.False(t, found.Ended())
}

// TestSweepReapsEmptySessions tests that sessions with no active participant go away
func TestSweepReapsEmptySessions(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	chatID := uuid.New()

	sess, _, err := reg.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return newTestSession(chatID)
	})
	assert.NoError(t, err)

	sess.SetParticipant(sess.InitiatorID, false)

	reaped := reg.sweep(time.Hour)
	assert.Equal(t, 1, reaped)

	_, err = reg.Lookup(ctx, sess.ID, chatID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
