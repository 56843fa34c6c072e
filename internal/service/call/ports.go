package call

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"teamboard-backend/internal/domain"
)

// MembershipResolver answers chat membership questions. Chat membership and
// persistence live in the chat service; the engine only consumes them.
type MembershipResolver interface {
	// IsGroupChat reports whether the chat is a group chat
	IsGroupChat(ctx context.Context, chatID uuid.UUID) (bool, error)

	// AllParticipants returns every member of the chat
	AllParticipants(ctx context.Context, chatID uuid.UUID) ([]*domain.User, error)

	// OtherParticipant returns the counterpart in a direct chat, excluding
	// the given user. Returns nil when the chat has no other member.
	OtherParticipant(ctx context.Context, chatID uuid.UUID, excluding uuid.UUID) (*domain.User, error)
}

// IdentityLookup resolves a user id to a display name and routable username
type IdentityLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// DeliveryGateway push-delivers signaling events. Delivery is fire-and-forget
// and at-most-once: the engine neither awaits confirmation nor retries.
type DeliveryGateway interface {
	// SendToUser delivers privately to one connected user
	SendToUser(username string, event *domain.SignalEvent)

	// SendToTopic broadcasts to all subscribers of a chat-scoped channel
	SendToTopic(topicKey string, event *domain.SignalEvent)
}

// CallTopic returns the chat-scoped broadcast channel key for call signaling
func CallTopic(chatID uuid.UUID) string {
	return fmt.Sprintf("call:%s", chatID)
}
