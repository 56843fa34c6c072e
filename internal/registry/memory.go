package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamboard-backend/internal/domain"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/metrics"
)

// MemoryRegistry is the in-process Registry implementation: two coupled
// indices over the set of live sessions, guarded by one mutex so they can
// never diverge. Process restart drops all live sessions; signaling state is
// ephemeral and callers must treat the registry as volatile.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.CallSession // by session id (primary)
	byChat   map[uuid.UUID]uuid.UUID           // chat id -> session id
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[uuid.UUID]*domain.CallSession),
		byChat:   make(map[uuid.UUID]uuid.UUID),
	}
}

// CreateOrAttach implements Registry. The existence check and the insert
// happen under the same lock, so concurrent starts for one chat resolve to a
// single session: the first creator wins and everyone else attaches.
func (r *MemoryRegistry) CreateOrAttach(_ context.Context, chatID uuid.UUID, build func() *domain.CallSession) (*domain.CallSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessID, ok := r.byChat[chatID]; ok {
		if sess, ok := r.sessions[sessID]; ok && !sess.Ended() {
			return sess, true, nil
		}
		// Stale chat entry pointing at a gone session
		delete(r.byChat, chatID)
		delete(r.sessions, sessID)
	}

	sess := build()
	r.sessions[sess.ID] = sess
	r.byChat[chatID] = sess.ID

	metrics.CallSessionsActive.Set(float64(len(r.sessions)))
	return sess, false, nil
}

// Lookup implements Registry. The chat binding is verified so a stale or
// forged session id cannot reach another chat's call.
func (r *MemoryRegistry) Lookup(_ context.Context, sessionID, chatID uuid.UUID) (*domain.CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sess, ok := r.sessions[sessionID]; ok && sess.ChatID == chatID {
		return sess, nil
	}

	// Fallback through the chat index before giving up
	if sessID, ok := r.byChat[chatID]; ok {
		if sess, ok := r.sessions[sessID]; ok {
			return sess, nil
		}
	}

	return nil, ErrSessionNotFound
}

// Remove implements Registry
func (r *MemoryRegistry) Remove(_ context.Context, sessionID, chatID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	if sessID, ok := r.byChat[chatID]; ok && sessID == sessionID {
		delete(r.byChat, chatID)
	}

	metrics.CallSessionsActive.Set(float64(len(r.sessions)))
	return nil
}

// Len implements Registry
func (r *MemoryRegistry) Len(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

// sweep removes sessions that have gone quiet: nobody active anymore, or a
// never-answered call with no signaling activity within maxIdle. Established
// calls are exempt from the idle check; once media flows peer-to-peer a
// healthy call produces no signaling at all, and it ends only through an
// explicit end or the last participant leaving. Returns the number of
// sessions reaped.
func (r *MemoryRegistry) sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	reaped := 0

	for id, sess := range r.sessions {
		idle := now.Sub(sess.IdleSince())
		if sess.Ended() || !sess.HasActiveParticipant() || (!sess.Established() && idle > maxIdle) {
			sess.End()
			delete(r.sessions, id)
			if sessID, ok := r.byChat[sess.ChatID]; ok && sessID == id {
				delete(r.byChat, sess.ChatID)
			}
			reaped++

			logger.Info("Reaped idle call session",
				zap.String("session_id", id.String()),
				zap.String("chat_id", sess.ChatID.String()),
				zap.Duration("idle", idle))
		}
	}

	if reaped > 0 {
		metrics.CallSessionsReapedTotal.Add(float64(reaped))
		metrics.CallSessionsActive.Set(float64(len(r.sessions)))
	}
	return reaped
}

// StartSweeper runs the idle-expiry sweep on a ticker. Returns a stop
// function that cancels the sweeper goroutine.
func (r *MemoryRegistry) StartSweeper(interval, maxIdle time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep(maxIdle)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
