package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teamboard-backend/internal/domain"
	"teamboard-backend/internal/registry"
	"teamboard-backend/pkg/logger"
)

func init() {
	logger.InitDefault("call-test")
}

// MockMembershipResolver is a mock implementation of MembershipResolver
type MockMembershipResolver struct {
	mock.Mock
}

func (m *MockMembershipResolver) IsGroupChat(ctx context.Context, chatID uuid.UUID) (bool, error) {
	args := m.Called(ctx, chatID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipResolver) AllParticipants(ctx context.Context, chatID uuid.UUID) ([]*domain.User, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockMembershipResolver) OtherParticipant(ctx context.Context, chatID uuid.UUID, excluding uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, chatID, excluding)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockIdentityLookup is a mock implementation of IdentityLookup
type MockIdentityLookup struct {
	mock.Mock
}

func (m *MockIdentityLookup) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// recorderGateway captures delivered events for assertions
type recorderGateway struct {
	mu     sync.Mutex
	toUser map[string][]*domain.SignalEvent
	topics map[string][]*domain.SignalEvent
}

func newRecorderGateway() *recorderGateway {
	return &recorderGateway{
		toUser: make(map[string][]*domain.SignalEvent),
		topics: make(map[string][]*domain.SignalEvent),
	}
}

func (g *recorderGateway) SendToUser(username string, event *domain.SignalEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toUser[username] = append(g.toUser[username], event)
}

func (g *recorderGateway) SendToTopic(topicKey string, event *domain.SignalEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics[topicKey] = append(g.topics[topicKey], event)
}

func (g *recorderGateway) userEvents(username string) []*domain.SignalEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*domain.SignalEvent(nil), g.toUser[username]...)
}

func (g *recorderGateway) topicEvents(topicKey string) []*domain.SignalEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*domain.SignalEvent(nil), g.topics[topicKey]...)
}

func (g *recorderGateway) userEventsOfKind(username string, kind domain.SignalKind) []*domain.SignalEvent {
	var out []*domain.SignalEvent
	for _, evt := range g.userEvents(username) {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

type fixture struct {
	service  *Service
	registry *registry.MemoryRegistry
	chats    *MockMembershipResolver
	users    *MockIdentityLookup
	gateway  *recorderGateway

	alice *domain.User
	bob   *domain.User
	carol *domain.User
}

func newFixture() *fixture {
	f := &fixture{
		registry: registry.NewMemoryRegistry(),
		chats:    new(MockMembershipResolver),
		users:    new(MockIdentityLookup),
		gateway:  newRecorderGateway(),
		alice:    &domain.User{UserID: uuid.New(), Username: "alice", DisplayName: "Alice"},
		bob:      &domain.User{UserID: uuid.New(), Username: "bob", DisplayName: "Bob"},
		carol:    &domain.User{UserID: uuid.New(), Username: "carol", DisplayName: "Carol"},
	}
	f.service = NewService(f.registry, f.chats, f.users, f.gateway)

	f.users.On("GetByID", mock.Anything, f.alice.UserID).Return(f.alice, nil)
	f.users.On("GetByID", mock.Anything, f.bob.UserID).Return(f.bob, nil)
	f.users.On("GetByID", mock.Anything, f.carol.UserID).Return(f.carol, nil)
	return f
}

// TestStartCreatesDirectSession tests session creation and the private
// notification the initiator must receive before any other event
func TestStartCreatesDirectSession(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)

	evt, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)

	assert.NoError(t, err)
	assert.Equal(t, domain.SignalOffer, evt.Kind)
	assert.NotEqual(t, uuid.Nil, evt.SessionID)
	assert.True(t, evt.Participants[f.alice.UserID])

	notifications := f.gateway.userEventsOfKind("alice", domain.SignalCallNotification)
	assert.Len(t, notifications, 1)
	assert.Equal(t, evt.SessionID, notifications[0].SessionID)

	sess, err := f.registry.Lookup(context.Background(), evt.SessionID, chatID)
	assert.NoError(t, err)
	assert.True(t, sess.IsActive(f.alice.UserID))
}

// TestStartGroupReturnsNotification tests group mode derivation
func TestStartGroupReturnsNotification(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	evt, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaAudio)

	assert.NoError(t, err)
	assert.Equal(t, domain.SignalCallNotification, evt.Kind)

	sess, err := f.registry.Lookup(context.Background(), evt.SessionID, chatID)
	assert.NoError(t, err)
	assert.Equal(t, domain.CallModeGroup, sess.Mode)
}

// TestStartConcurrentYieldsOneSession tests that racing starts for the same
// chat converge on a single session id
func TestStartConcurrentYieldsOneSession(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	const callers = 8
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
			assert.NoError(t, err)
			ids <- evt.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	n, err := f.registry.Len(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestStartAttachesToExistingSession tests that a second start joins the call
func TestStartAttachesToExistingSession(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	first, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	second, err := f.service.Start(context.Background(), chatID, f.bob.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, second.Participants[f.alice.UserID])
	assert.True(t, second.Participants[f.bob.UserID])

	sess, err := f.registry.Lookup(context.Background(), first.SessionID, chatID)
	assert.NoError(t, err)
	assert.True(t, sess.IsActive(f.bob.UserID))
}

// TestStartEventsCarryCallMode tests that every start event is stamped with
// the session's mode, so transports can keep a direct attach private instead
// of announcing it on the chat topic
func TestStartEventsCarryCallMode(t *testing.T) {
	f := newFixture()

	directChat := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, directChat).Return(false, nil)

	fresh, err := f.service.Start(context.Background(), directChat, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	assert.Equal(t, domain.CallModeDirect, fresh.Mode)

	attach, err := f.service.Start(context.Background(), directChat, f.bob.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	assert.Equal(t, domain.SignalCallNotification, attach.Kind)
	assert.Equal(t, domain.CallModeDirect, attach.Mode)

	groupChat := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, groupChat).Return(true, nil)

	group, err := f.service.Start(context.Background(), groupChat, f.carol.UserID, domain.MediaAudio)
	assert.NoError(t, err)
	assert.Equal(t, domain.CallModeGroup, group.Mode)
}

// TestOfferDeliveredToCounterpart tests direct-offer routing and callee
// pre-registration
func TestOfferDeliveredToCounterpart(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	_, err = f.service.ProcessOffer(context.Background(), chatID, started.SessionID, f.alice.UserID, "abc")
	assert.NoError(t, err)

	offers := f.gateway.userEventsOfKind("bob", domain.SignalOffer)
	assert.Len(t, offers, 1)
	assert.Equal(t, started.SessionID, offers[0].SessionID)
	assert.Equal(t, domain.OfferPayload{SDP: "abc"}, offers[0].Payload)

	// Callee is pre-registered as pending, not active
	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	assert.Contains(t, sess.ParticipantSnapshot(), f.bob.UserID)
	assert.False(t, sess.IsActive(f.bob.UserID))
}

// TestOfferForMissingSessionIsDropped tests that a stale offer goes nowhere
func TestOfferForMissingSessionIsDropped(t *testing.T) {
	f := newFixture()

	evt, err := f.service.ProcessOffer(context.Background(), uuid.New(), uuid.New(), f.alice.UserID, "abc")
	assert.NoError(t, err)
	assert.Nil(t, evt)
	assert.Empty(t, f.gateway.userEvents("alice"))
	assert.Empty(t, f.gateway.userEvents("bob"))
}

// TestAnswerDeliveredToInitiator tests direct-answer routing
func TestAnswerDeliveredToInitiator(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	_, err = f.service.ProcessOffer(context.Background(), chatID, started.SessionID, f.alice.UserID, "abc")
	assert.NoError(t, err)

	err = f.service.ProcessAnswer(context.Background(), chatID, started.SessionID, f.bob.UserID, "xyz")
	assert.NoError(t, err)

	answers := f.gateway.userEventsOfKind("alice", domain.SignalAnswer)
	assert.Len(t, answers, 1)
	assert.Equal(t, domain.AnswerPayload{SDP: "xyz"}, answers[0].Payload)

	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	assert.True(t, sess.IsActive(f.bob.UserID))
}

// TestAnswerForMissingSessionSynthesizesEnded tests the downgrade policy:
// a late responder gets call_ended instead of silence
func TestAnswerForMissingSessionSynthesizesEnded(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	sessionID := uuid.New()

	err := f.service.ProcessAnswer(context.Background(), chatID, sessionID, f.bob.UserID, "xyz")
	assert.NoError(t, err)

	ended := f.gateway.userEventsOfKind("bob", domain.SignalCallEnded)
	assert.Len(t, ended, 1)
	assert.Equal(t, sessionID, ended[0].SessionID)
}

// TestIceCandidateRelayedVerbatim tests byte-for-byte candidate relay to the
// counterpart and never back to the sender
func TestIceCandidateRelayedVerbatim(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	candidate := `{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.7 54321 typ host","sdpMid":"0"}`
	err = f.service.ProcessIceCandidate(context.Background(), chatID, started.SessionID, f.alice.UserID, candidate)
	assert.NoError(t, err)

	relayed := f.gateway.userEventsOfKind("bob", domain.SignalIceCandidate)
	assert.Len(t, relayed, 1)
	assert.Equal(t, domain.CandidatePayload{Candidate: candidate}, relayed[0].Payload)
	assert.Empty(t, f.gateway.userEventsOfKind("alice", domain.SignalIceCandidate))
}

// TestGroupIceCandidateExcludesSender tests group fan-out routing
func TestGroupIceCandidateExcludesSender(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	sess.SetParticipant(f.bob.UserID, true)
	sess.SetParticipant(f.carol.UserID, true)

	err = f.service.ProcessIceCandidate(context.Background(), chatID, started.SessionID, f.bob.UserID, "cand")
	assert.NoError(t, err)

	assert.Len(t, f.gateway.userEventsOfKind("alice", domain.SignalIceCandidate), 1)
	assert.Len(t, f.gateway.userEventsOfKind("carol", domain.SignalIceCandidate), 1)
	assert.Empty(t, f.gateway.userEventsOfKind("bob", domain.SignalIceCandidate))
}

// TestDirectEndNotifiesOtherAndRemoves tests that either side ends the call
// for both, with exactly one call_ended to the other member
func TestDirectEndNotifiesOtherAndRemoves(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)
	f.chats.On("AllParticipants", mock.Anything, chatID).Return([]*domain.User{f.alice, f.bob}, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	_, err = f.service.ProcessOffer(context.Background(), chatID, started.SessionID, f.alice.UserID, "abc")
	assert.NoError(t, err)
	err = f.service.ProcessAnswer(context.Background(), chatID, started.SessionID, f.bob.UserID, "xyz")
	assert.NoError(t, err)

	err = f.service.End(context.Background(), chatID, started.SessionID, f.bob.UserID)
	assert.NoError(t, err)

	ended := f.gateway.userEventsOfKind("alice", domain.SignalCallEnded)
	assert.Len(t, ended, 1)
	assert.Empty(t, f.gateway.userEventsOfKind("bob", domain.SignalCallEnded))

	_, err = f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
}

// TestEndIdempotent tests that a second end yields a synthesized call_ended
// to the requester instead of an error
// TestDirectEndTearsDownWhenMembersUnresolvable tests that a failed
// membership query never leaves a direct call half-ended: the session still
// leaves the registry and the verb converges instead of erroring
func TestDirectEndTearsDownWhenMembersUnresolvable(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)
	f.chats.On("AllParticipants", mock.Anything, chatID).Return(nil, errors.New("connection refused"))

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	_, err = f.service.ProcessOffer(context.Background(), chatID, started.SessionID, f.alice.UserID, "abc")
	assert.NoError(t, err)

	err = f.service.End(context.Background(), chatID, started.SessionID, f.alice.UserID)
	assert.NoError(t, err)

	_, err = f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
	assert.Empty(t, f.gateway.userEventsOfKind("bob", domain.SignalCallEnded))
}

func TestEndIdempotent(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("AllParticipants", mock.Anything, chatID).Return([]*domain.User{f.alice, f.bob}, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	assert.NoError(t, f.service.End(context.Background(), chatID, started.SessionID, f.alice.UserID))
	assert.NoError(t, f.service.End(context.Background(), chatID, started.SessionID, f.alice.UserID))

	// The second call found nothing and synthesized a terminal event
	ended := f.gateway.userEventsOfKind("alice", domain.SignalCallEnded)
	assert.Len(t, ended, 1)
}

// TestGroupEndRemovesOnlyLeaver tests that a non-last leave keeps the call
// live and broadcasts the roster change to the remaining participants
func TestGroupEndRemovesOnlyLeaver(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	sess.SetParticipant(f.bob.UserID, true)

	err = f.service.End(context.Background(), chatID, started.SessionID, f.alice.UserID)
	assert.NoError(t, err)

	// Session stays live for bob, who is told about the roster change
	found, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	assert.True(t, found.IsActive(f.bob.UserID))
	assert.False(t, found.IsActive(f.alice.UserID))

	left := f.gateway.userEventsOfKind("bob", domain.SignalRoomLeft)
	assert.Len(t, left, 1)
	assert.False(t, left[0].Participants[f.alice.UserID])
	assert.True(t, left[0].Participants[f.bob.UserID])
}

// TestGroupEndLastparticipantRemovesSession tests that the last leave drains
// the session out of the registry
func TestGroupEndLastparticipantRemovesSession(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	err = f.service.End(context.Background(), chatID, started.SessionID, f.alice.UserID)
	assert.NoError(t, err)

	_, err = f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)

	topic := f.gateway.topicEvents(CallTopic(chatID))
	assert.Len(t, topic, 1)
	assert.Equal(t, domain.SignalCallEnded, topic[0].Kind)
}

// TestInviteOnDirectCallDropped tests the invalid-operation no-op
func TestInviteOnDirectCallDropped(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	err = f.service.Invite(context.Background(), chatID, started.SessionID, f.alice.UserID, f.carol.UserID)
	assert.NoError(t, err)
	assert.Empty(t, f.gateway.userEvents("carol"))
}

// TestGroupInviteDeliversRosterWithoutJoining tests that an invite carries
// the roster but does not add the invitee
func TestGroupInviteDeliversRosterWithoutJoining(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	err = f.service.Invite(context.Background(), chatID, started.SessionID, f.alice.UserID, f.carol.UserID)
	assert.NoError(t, err)

	invites := f.gateway.userEventsOfKind("carol", domain.SignalCallInvite)
	assert.Len(t, invites, 1)
	assert.True(t, invites[0].Participants[f.alice.UserID])

	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	assert.NotContains(t, sess.ParticipantSnapshot(), f.carol.UserID)
}

// TestMediaToggleRequiresActiveParticipant tests drop semantics for toggles
func TestMediaToggleRequiresActiveParticipant(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)

	// Carol never joined; her toggle is dropped
	err = f.service.MediaStatus(context.Background(), chatID, started.SessionID, f.carol.UserID, domain.SignalToggleAudio, false)
	assert.NoError(t, err)
	assert.Empty(t, f.gateway.userEventsOfKind("alice", domain.SignalToggleAudio))
}

// TestMediaToggleBroadcastExcludesSender tests toggle fan-out
func TestMediaToggleBroadcastExcludesSender(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(true, nil)

	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	sess, err := f.registry.Lookup(context.Background(), started.SessionID, chatID)
	assert.NoError(t, err)
	sess.SetParticipant(f.bob.UserID, true)

	err = f.service.MediaStatus(context.Background(), chatID, started.SessionID, f.bob.UserID, domain.SignalScreenShareStarted, true)
	assert.NoError(t, err)

	shares := f.gateway.userEventsOfKind("alice", domain.SignalScreenShareStarted)
	assert.Len(t, shares, 1)
	assert.Equal(t, domain.TogglePayload{Enabled: true}, shares[0].Payload)
	assert.Empty(t, f.gateway.userEventsOfKind("bob", domain.SignalScreenShareStarted))
}

// TestDirectCallScenario walks the full start -> offer -> answer -> end flow
func TestDirectCallScenario(t *testing.T) {
	f := newFixture()
	chatID := uuid.New()
	f.chats.On("IsGroupChat", mock.Anything, chatID).Return(false, nil)
	f.chats.On("OtherParticipant", mock.Anything, chatID, f.alice.UserID).Return(f.bob, nil)
	f.chats.On("AllParticipants", mock.Anything, chatID).Return([]*domain.User{f.alice, f.bob}, nil)

	// User 1 starts a video call and learns the session id privately
	started, err := f.service.Start(context.Background(), chatID, f.alice.UserID, domain.MediaVideo)
	assert.NoError(t, err)
	sessionID := started.SessionID
	notified := f.gateway.userEventsOfKind("alice", domain.SignalCallNotification)
	assert.Len(t, notified, 1)
	assert.Equal(t, sessionID, notified[0].SessionID)

	// User 1 sends the offer; user 2 receives it with the same session id
	_, err = f.service.ProcessOffer(context.Background(), chatID, sessionID, f.alice.UserID, "abc")
	assert.NoError(t, err)
	offers := f.gateway.userEventsOfKind("bob", domain.SignalOffer)
	assert.Len(t, offers, 1)
	assert.Equal(t, sessionID, offers[0].SessionID)
	assert.Equal(t, domain.OfferPayload{SDP: "abc"}, offers[0].Payload)

	// User 2 answers; user 1 receives the answer
	err = f.service.ProcessAnswer(context.Background(), chatID, sessionID, f.bob.UserID, "xyz")
	assert.NoError(t, err)
	answers := f.gateway.userEventsOfKind("alice", domain.SignalAnswer)
	assert.Len(t, answers, 1)
	assert.Equal(t, domain.AnswerPayload{SDP: "xyz"}, answers[0].Payload)

	// User 2 hangs up; user 1 is told and the session is gone
	err = f.service.End(context.Background(), chatID, sessionID, f.bob.UserID)
	assert.NoError(t, err)
	assert.Len(t, f.gateway.userEventsOfKind("alice", domain.SignalCallEnded), 1)

	_, err = f.registry.Lookup(context.Background(), sessionID, chatID)
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
}
