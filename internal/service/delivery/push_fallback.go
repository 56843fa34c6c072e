package delivery

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamboard-backend/internal/domain"
	"teamboard-backend/internal/service/call"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/metrics"
	"teamboard-backend/pkg/push"
)

// PresenceChecker answers whether a user currently holds a live socket
type PresenceChecker interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// TokenStore lists the registered device tokens of a user
type TokenStore interface {
	GetForUser(ctx context.Context, userID uuid.UUID) ([]*push.Token, error)
}

// UserResolver maps a routable username back to an identity
type UserResolver interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// PushFallbackGateway decorates a delivery gateway with a mobile ring: when a
// call-initiating event targets a user with no live socket, their registered
// devices are pushed a high-priority notification so the phone rings anyway.
// All other events pass through untouched; a callee who missed them catches
// up when they reconnect, or receives a synthesized terminal event.
type PushFallbackGateway struct {
	inner    call.DeliveryGateway
	presence PresenceChecker
	tokens   TokenStore
	users    UserResolver
	provider push.Provider
}

// NewPushFallbackGateway wraps the inner gateway with push fallback
func NewPushFallbackGateway(inner call.DeliveryGateway, presence PresenceChecker, tokens TokenStore, users UserResolver, provider push.Provider) *PushFallbackGateway {
	return &PushFallbackGateway{
		inner:    inner,
		presence: presence,
		tokens:   tokens,
		users:    users,
		provider: provider,
	}
}

// SendToUser delivers the event and, for incoming-call kinds, rings offline
// devices. Fire-and-forget like the gateway it wraps: the ring happens in the
// background so signaling latency never waits on APNs or FCM.
func (g *PushFallbackGateway) SendToUser(username string, event *domain.SignalEvent) {
	g.inner.SendToUser(username, event)

	if !domain.IncomingCallKind(event.Kind) {
		return
	}

	go g.maybeRing(username, event)
}

// SendToTopic passes through; topic broadcasts target already-connected
// sockets
func (g *PushFallbackGateway) SendToTopic(topicKey string, event *domain.SignalEvent) {
	g.inner.SendToTopic(topicKey, event)
}

func (g *PushFallbackGateway) maybeRing(username string, event *domain.SignalEvent) {
	ctx := context.Background()

	user, err := g.users.GetByUsername(ctx, username)
	if err != nil {
		logger.Warn("Push fallback: cannot resolve user",
			zap.String("username", username),
			zap.Error(err))
		metrics.CallPushFallbackTotal.WithLabelValues("user_unknown").Inc()
		return
	}

	online, err := g.presence.IsUserOnline(ctx, user.UserID)
	if err != nil {
		logger.Warn("Push fallback: presence check failed",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		metrics.CallPushFallbackTotal.WithLabelValues("presence_error").Inc()
		return
	}
	if online {
		return
	}

	tokens, err := g.tokens.GetForUser(ctx, user.UserID)
	if err != nil {
		logger.Warn("Push fallback: cannot load device tokens",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		metrics.CallPushFallbackTotal.WithLabelValues("token_error").Inc()
		return
	}

	var active []string
	for _, token := range tokens {
		if token.Active {
			active = append(active, token.Token)
		}
	}
	if len(active) == 0 {
		metrics.CallPushFallbackTotal.WithLabelValues("no_tokens").Inc()
		return
	}

	ring := push.CallRing(event.SenderName, event.ChatID, event.SessionID, string(event.Media))
	result, err := g.provider.Send(ctx, ring, active)
	if err != nil {
		logger.Error("Push fallback: ring failed",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		metrics.CallPushFallbackTotal.WithLabelValues("send_error").Inc()
		return
	}

	metrics.CallPushFallbackTotal.WithLabelValues("sent").Inc()
	logger.Info("Rang offline callee",
		zap.String("user_id", user.UserID.String()),
		zap.String("session_id", event.SessionID.String()),
		zap.Int("device_count", len(active)),
		zap.Int("success_count", result.SuccessCount))
}
