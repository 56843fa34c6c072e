package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"teamboard-backend/internal/domain"
)

// ErrSessionNotFound is returned when neither index holds a live session
// matching the request
var ErrSessionNotFound = errors.New("call session not found")

// Registry is the authoritative answer to "is there a call in this chat
// right now". Implementations must keep the session index and the chat index
// consistent under concurrent access; the registry, not the caller, owns the
// check-and-set that prevents two racing starts from both creating a session.
//
// The interface is injected into the signaling engine so the in-memory
// implementation can be swapped for a distributed store without touching the
// engine.
type Registry interface {
	// CreateOrAttach returns the live session for chatID if one exists
	// (attached=true). Otherwise it invokes build, stores the result under
	// both indices atomically, and returns it with attached=false.
	CreateOrAttach(ctx context.Context, chatID uuid.UUID, build func() *domain.CallSession) (sess *domain.CallSession, attached bool, err error)

	// Lookup finds a session by id and verifies it belongs to chatID.
	// If the primary lookup misses, the chat index is consulted before
	// reporting ErrSessionNotFound.
	Lookup(ctx context.Context, sessionID, chatID uuid.UUID) (*domain.CallSession, error)

	// Remove deletes the session from both indices. Idempotent: removing an
	// absent session is not an error.
	Remove(ctx context.Context, sessionID, chatID uuid.UUID) error

	// Len reports the number of live sessions
	Len(ctx context.Context) (int, error)
}
