package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teamboard-backend/internal/domain"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/push"
)

func init() {
	logger.InitDefault("delivery-test")
}

type MockPresenceChecker struct {
	mock.Mock
}

func (m *MockPresenceChecker) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) GetForUser(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*push.Token), args.Error(1)
}

type MockUserResolver struct {
	mock.Mock
}

func (m *MockUserResolver) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// signalingProvider records sends and signals completion for the async ring
type signalingProvider struct {
	mu    sync.Mutex
	sent  []*push.Notification
	calls chan struct{}
}

func newSignalingProvider() *signalingProvider {
	return &signalingProvider{calls: make(chan struct{}, 8)}
}

func (p *signalingProvider) Send(ctx context.Context, n *push.Notification, tokens []string) (*push.SendResult, error) {
	p.mu.Lock()
	p.sent = append(p.sent, n)
	p.mu.Unlock()
	p.calls <- struct{}{}
	return &push.SendResult{SuccessCount: len(tokens)}, nil
}

func (p *signalingProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type nopGateway struct {
	mu     sync.Mutex
	events []*domain.SignalEvent
}

func (g *nopGateway) SendToUser(username string, event *domain.SignalEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
}

func (g *nopGateway) SendToTopic(topicKey string, event *domain.SignalEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
}

func (g *nopGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

func waitForRing(t *testing.T, provider *signalingProvider) {
	t.Helper()
	select {
	case <-provider.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push send")
	}
}

func TestPushFallbackRingsOfflineCallee(t *testing.T) {
	bob := &domain.User{UserID: uuid.New(), Username: "bob", DisplayName: "Bob"}
	inner := &nopGateway{}
	presence := new(MockPresenceChecker)
	tokens := new(MockTokenStore)
	users := new(MockUserResolver)
	provider := newSignalingProvider()

	users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil)
	presence.On("IsUserOnline", mock.Anything, bob.UserID).Return(false, nil)
	tokens.On("GetForUser", mock.Anything, bob.UserID).Return([]*push.Token{
		{Token: "device-token-1", Active: true},
		{Token: "device-token-2", Active: false},
	}, nil)

	gateway := NewPushFallbackGateway(inner, presence, tokens, users, provider)

	evt := &domain.SignalEvent{
		Kind:       domain.SignalOffer,
		ChatID:     uuid.New(),
		SessionID:  uuid.New(),
		SenderName: "Alice",
		Media:      domain.MediaVideo,
		Timestamp:  time.Now(),
	}
	gateway.SendToUser("bob", evt)

	waitForRing(t, provider)

	// Event still went through the wrapped gateway
	assert.Equal(t, 1, inner.count())
	assert.Equal(t, 1, provider.sentCount())
	assert.Equal(t, "Incoming Call", provider.sent[0].Title)
	assert.Equal(t, evt.SessionID.String(), provider.sent[0].Data["session_id"])
}

func TestPushFallbackSkipsOnlineCallee(t *testing.T) {
	bob := &domain.User{UserID: uuid.New(), Username: "bob"}
	inner := &nopGateway{}
	presence := new(MockPresenceChecker)
	tokens := new(MockTokenStore)
	users := new(MockUserResolver)
	provider := newSignalingProvider()

	checked := make(chan struct{})
	users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil)
	presence.On("IsUserOnline", mock.Anything, bob.UserID).
		Run(func(mock.Arguments) { close(checked) }).
		Return(true, nil)

	gateway := NewPushFallbackGateway(inner, presence, tokens, users, provider)

	gateway.SendToUser("bob", &domain.SignalEvent{
		Kind:      domain.SignalCallNotification,
		ChatID:    uuid.New(),
		SessionID: uuid.New(),
	})

	// Wait for the async presence check to conclude without a send
	select {
	case <-checked:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a presence check")
	}
	assert.Equal(t, 0, provider.sentCount())
	assert.Equal(t, 1, inner.count())
	tokens.AssertNotCalled(t, "GetForUser", mock.Anything, mock.Anything)
}

func TestPushFallbackIgnoresNonRingingKinds(t *testing.T) {
	inner := &nopGateway{}
	presence := new(MockPresenceChecker)
	tokens := new(MockTokenStore)
	users := new(MockUserResolver)
	provider := newSignalingProvider()

	gateway := NewPushFallbackGateway(inner, presence, tokens, users, provider)

	gateway.SendToUser("bob", &domain.SignalEvent{
		Kind:      domain.SignalIceCandidate,
		ChatID:    uuid.New(),
		SessionID: uuid.New(),
	})

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, 0, provider.sentCount())
	users.AssertNotCalled(t, "GetByUsername", mock.Anything, mock.Anything)
}
