package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamboard-backend/internal/domain"
	"teamboard-backend/internal/registry"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/metrics"
)

// Service is the signaling engine: it validates requests against registry
// state, mutates sessions, and decides which participants receive each event.
//
// A missing session is never surfaced as a hard error to the remote caller.
// Depending on the verb it is either logged and dropped, or downgraded to a
// synthesized call_ended notification so stale clients converge to a
// consistent terminal state instead of hanging.
type Service struct {
	registry registry.Registry
	chats    MembershipResolver
	users    IdentityLookup
	gateway  DeliveryGateway
}

// NewService creates a new signaling engine
func NewService(reg registry.Registry, chats MembershipResolver, users IdentityLookup, gateway DeliveryGateway) *Service {
	return &Service{
		registry: reg,
		chats:    chats,
		users:    users,
		gateway:  gateway,
	}
}

// Start begins or joins a call in the chat. If a live session already exists
// the caller attaches to it: the first successful registry insert is
// authoritative and later racing starts all land on the same session.
//
// The returned event is what the transport adapter should act on: kind offer
// for fresh direct calls (the client is expected to follow up with an SDP
// offer) or call_notification otherwise. The event carries the session mode;
// transports broadcast group events to the chat topic and keep direct ones
// private. For a freshly created session the initiator is additionally sent a
// private notification before this returns, so their client knows the
// authoritative session id before it starts emitting ICE candidates.
func (s *Service) Start(ctx context.Context, chatID, initiatorID uuid.UUID, media domain.MediaKind) (*domain.SignalEvent, error) {
	initiator, err := s.users.GetByID(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve initiator: %w", err)
	}

	isGroup, err := s.chats.IsGroupChat(ctx, chatID)
	if err != nil {
		// Chat is gone or unknown: tell the caller the call is over
		s.synthesizeEnded(ctx, chatID, uuid.Nil, initiator)
		return nil, fmt.Errorf("failed to resolve chat %s: %w", chatID, err)
	}

	mode := domain.CallModeDirect
	if isGroup {
		mode = domain.CallModeGroup
	}

	sess, attached, err := s.registry.CreateOrAttach(ctx, chatID, func() *domain.CallSession {
		return domain.NewCallSession(chatID, initiatorID, initiator.Name(), mode, media)
	})
	if err != nil {
		return nil, fmt.Errorf("registry create-or-attach failed: %w", err)
	}

	if attached {
		// Existing call wins over create; join it instead
		sess.SetParticipant(initiatorID, true)
		metrics.CallSessionsAttachedTotal.Inc()

		evt := domain.NewSignalEvent(domain.SignalCallNotification, sess, initiatorID, initiator.Name()).WithRoster(sess)
		metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

		logger.Debug("Start attached to existing session",
			zap.String("chat_id", chatID.String()),
			zap.String("session_id", sess.ID.String()),
			zap.String("user_id", initiatorID.String()))
		return evt, nil
	}

	metrics.CallSessionsCreatedTotal.WithLabelValues(string(mode), string(media)).Inc()

	// Private notification first: the initiator must learn the session id
	// before any of their ICE candidates reach the server
	notify := domain.NewSignalEvent(domain.SignalCallNotification, sess, initiatorID, initiator.Name()).WithRoster(sess)
	s.gateway.SendToUser(initiator.Username, notify)

	kind := domain.SignalCallNotification
	if mode == domain.CallModeDirect {
		kind = domain.SignalOffer
	}
	evt := domain.NewSignalEvent(kind, sess, initiatorID, initiator.Name()).WithRoster(sess)
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	logger.Info("Call session created",
		zap.String("chat_id", chatID.String()),
		zap.String("session_id", sess.ID.String()),
		zap.String("mode", string(mode)),
		zap.String("media", string(media)))
	return evt, nil
}

// ProcessOffer attaches an SDP offer to the session and, for direct calls,
// private-delivers it to the chat's other member. For group calls the event
// is returned instead and the transport broadcasts it to the chat topic; a
// nil event means delivery is already done or the offer was dropped. A
// missing session is logged and dropped: the initiator was already told the
// session state by Start, and there is no recipient to contact.
func (s *Service) ProcessOffer(ctx context.Context, chatID, sessionID, senderID uuid.UUID, sdp string) (*domain.SignalEvent, error) {
	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		logger.Warn("Offer for unknown session dropped",
			zap.String("chat_id", chatID.String()),
			zap.String("session_id", sessionID.String()))
		metrics.CallSignalDroppedTotal.WithLabelValues("offer_no_session").Inc()
		return nil, nil
	}

	sess.SetParticipant(senderID, true)
	sess.Touch()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve offer sender: %w", err)
	}

	evt := domain.NewSignalEvent(domain.SignalOffer, sess, senderID, sender.Name()).
		WithPayload(domain.OfferPayload{SDP: sdp})
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	if sess.Mode == domain.CallModeDirect {
		other, err := s.chats.OtherParticipant(ctx, chatID, senderID)
		if err != nil || other == nil {
			logger.Warn("Direct offer has no counterpart",
				zap.String("chat_id", chatID.String()),
				zap.Error(err))
			metrics.CallSignalDroppedTotal.WithLabelValues("offer_no_counterpart").Inc()
			return nil, nil
		}

		// Pre-register the callee so their ICE candidates can be
		// attributed before they answer
		sess.EnsureParticipant(other.UserID)
		s.gateway.SendToUser(other.Username, evt)
		return nil, nil
	}

	return evt, nil
}

// ProcessAnswer attaches an SDP answer and routes it: privately to the
// initiator for direct calls, to all currently-active participants for group
// calls. A missing session yields a synthesized call_ended back to the
// responder so a late client gives up instead of waiting forever.
func (s *Service) ProcessAnswer(ctx context.Context, chatID, sessionID, senderID uuid.UUID, sdp string) error {
	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		s.synthesizeEndedFor(ctx, chatID, sessionID, senderID)
		return nil
	}

	sess.SetParticipant(senderID, true)
	sess.Touch()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to resolve answer sender: %w", err)
	}

	evt := domain.NewSignalEvent(domain.SignalAnswer, sess, senderID, sender.Name()).
		WithPayload(domain.AnswerPayload{SDP: sdp}).
		WithRoster(sess)
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	if sess.Mode == domain.CallModeDirect {
		initiator, err := s.users.GetByID(ctx, sess.InitiatorID)
		if err != nil {
			return fmt.Errorf("failed to resolve initiator: %w", err)
		}
		s.gateway.SendToUser(initiator.Username, evt)
		return nil
	}

	s.broadcastToActive(ctx, sess, evt, uuid.Nil)
	return nil
}

// ProcessIceCandidate relays one opaque ICE candidate. Direct calls forward
// it to the chat's other member, registering them in the session if missing;
// group calls fan out to every active participant except the sender. The
// candidate is never inspected.
func (s *Service) ProcessIceCandidate(ctx context.Context, chatID, sessionID, senderID uuid.UUID, candidate string) error {
	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		s.synthesizeEndedFor(ctx, chatID, sessionID, senderID)
		return nil
	}
	sess.Touch()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to resolve candidate sender: %w", err)
	}

	evt := domain.NewSignalEvent(domain.SignalIceCandidate, sess, senderID, sender.Name()).
		WithPayload(domain.CandidatePayload{Candidate: candidate})
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	if sess.Mode == domain.CallModeDirect {
		other, err := s.chats.OtherParticipant(ctx, chatID, senderID)
		if err != nil || other == nil {
			logger.Warn("Direct candidate has no counterpart",
				zap.String("chat_id", chatID.String()),
				zap.Error(err))
			metrics.CallSignalDroppedTotal.WithLabelValues("candidate_no_counterpart").Inc()
			return nil
		}
		sess.EnsureParticipant(other.UserID)
		s.gateway.SendToUser(other.Username, evt)
		return nil
	}

	s.broadcastToActive(ctx, sess, evt, senderID)
	return nil
}

// End terminates the caller's involvement in the call. Direct calls end for
// both sides: every other chat member is privately notified and the session
// leaves the registry. Group calls only remove the one participant; the
// session ends when the last active participant leaves, otherwise the
// remaining participants get a roster update. Ending an already-gone session
// is idempotent from the client's point of view: the requester just receives
// a synthesized call_ended.
func (s *Service) End(ctx context.Context, chatID, sessionID, userID uuid.UUID) error {
	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		s.synthesizeEndedFor(ctx, chatID, sessionID, userID)
		return nil
	}

	ender, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve ending user: %w", err)
	}

	if sess.Mode == domain.CallModeDirect {
		// Resolve recipients before touching the session so a failed
		// membership query cannot leave the call half-ended; if it fails
		// anyway, teardown still goes through without the fan-out
		members, err := s.chats.AllParticipants(ctx, chatID)
		if err != nil {
			logger.Error("Cannot resolve members for call_ended fan-out",
				zap.String("chat_id", chatID.String()),
				zap.Error(err))
			members = nil
		}

		sess.End()
		if err := s.registry.Remove(ctx, sess.ID, chatID); err != nil {
			logger.Error("Failed to remove ended session",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err))
		}
		metrics.CallSessionsEndedTotal.WithLabelValues("ended").Inc()

		evt := domain.NewSignalEvent(domain.SignalCallEnded, sess, userID, ender.Name())
		metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
		for _, member := range members {
			if member.UserID != userID {
				s.gateway.SendToUser(member.Username, evt)
			}
		}

		logger.Info("Direct call ended",
			zap.String("chat_id", chatID.String()),
			zap.String("session_id", sess.ID.String()),
			zap.String("ended_by", userID.String()))
		return nil
	}

	sess.SetParticipant(userID, false)

	if !sess.HasActiveParticipant() {
		sess.End()
		if err := s.registry.Remove(ctx, sess.ID, chatID); err != nil {
			logger.Error("Failed to remove drained session",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err))
		}
		metrics.CallSessionsEndedTotal.WithLabelValues("last_left").Inc()

		evt := domain.NewSignalEvent(domain.SignalCallEnded, sess, userID, ender.Name())
		metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
		s.gateway.SendToTopic(CallTopic(chatID), evt)

		logger.Info("Group call drained",
			zap.String("chat_id", chatID.String()),
			zap.String("session_id", sess.ID.String()))
		return nil
	}

	evt := domain.NewSignalEvent(domain.SignalRoomLeft, sess, userID, ender.Name()).WithRoster(sess)
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	s.broadcastToActive(ctx, sess, evt, userID)
	return nil
}

// Invite privately delivers a call invitation carrying the current roster.
// Only meaningful for group sessions; an invite on a direct call is a logged
// no-op. The invitee is not added to the session: they join through their own
// start/answer flow.
func (s *Service) Invite(ctx context.Context, chatID, sessionID, inviterID, inviteeID uuid.UUID) error {
	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		s.synthesizeEndedFor(ctx, chatID, sessionID, inviterID)
		return nil
	}

	if sess.Mode != domain.CallModeGroup {
		logger.Warn("Invite on direct call dropped",
			zap.String("chat_id", chatID.String()),
			zap.String("session_id", sess.ID.String()),
			zap.String("inviter_id", inviterID.String()))
		metrics.CallSignalDroppedTotal.WithLabelValues("invite_direct").Inc()
		return nil
	}

	inviter, err := s.users.GetByID(ctx, inviterID)
	if err != nil {
		return fmt.Errorf("failed to resolve inviter: %w", err)
	}
	invitee, err := s.users.GetByID(ctx, inviteeID)
	if err != nil {
		logger.Warn("Invitee not found, invite dropped",
			zap.String("invitee_id", inviteeID.String()),
			zap.Error(err))
		metrics.CallSignalDroppedTotal.WithLabelValues("invite_no_invitee").Inc()
		return nil
	}

	evt := domain.NewSignalEvent(domain.SignalCallInvite, sess, inviterID, inviter.Name()).WithRoster(sess)
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	s.gateway.SendToUser(invitee.Username, evt)
	return nil
}

// MediaStatus fans a media toggle (mute, screen share) out to all active
// participants except the sender. The session must exist and the sender must
// be an active participant; otherwise the toggle is dropped.
func (s *Service) MediaStatus(ctx context.Context, chatID, sessionID, senderID uuid.UUID, kind domain.SignalKind, enabled bool) error {
	switch kind {
	case domain.SignalToggleAudio, domain.SignalToggleVideo,
		domain.SignalScreenShareStarted, domain.SignalScreenShareEnded:
	default:
		metrics.CallSignalDroppedTotal.WithLabelValues("toggle_bad_kind").Inc()
		return nil
	}

	sess, err := s.registry.Lookup(ctx, sessionID, chatID)
	if err != nil {
		metrics.CallSignalDroppedTotal.WithLabelValues("toggle_no_session").Inc()
		return nil
	}
	if !sess.IsActive(senderID) {
		logger.Warn("Media toggle from non-participant dropped",
			zap.String("session_id", sess.ID.String()),
			zap.String("user_id", senderID.String()))
		metrics.CallSignalDroppedTotal.WithLabelValues("toggle_not_participant").Inc()
		return nil
	}
	sess.Touch()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to resolve toggle sender: %w", err)
	}

	evt := domain.NewSignalEvent(kind, sess, senderID, sender.Name()).
		WithPayload(domain.TogglePayload{Enabled: enabled})
	metrics.CallSignalEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	s.broadcastToActive(ctx, sess, evt, senderID)
	return nil
}

// synthesizeEndedFor resolves the requester and sends them a terminal
// call_ended for a session the registry no longer knows. This is the single
// place where "not found" turns into client-visible state.
func (s *Service) synthesizeEndedFor(ctx context.Context, chatID, sessionID, userID uuid.UUID) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		logger.Warn("Cannot synthesize call_ended, user unknown",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	s.synthesizeEnded(ctx, chatID, sessionID, user)
}

func (s *Service) synthesizeEnded(_ context.Context, chatID, sessionID uuid.UUID, target *domain.User) {
	evt := &domain.SignalEvent{
		Kind:      domain.SignalCallEnded,
		ChatID:    chatID,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
	metrics.CallSynthesizedEndedTotal.Inc()
	s.gateway.SendToUser(target.Username, evt)

	logger.Debug("Synthesized call_ended for missing session",
		zap.String("chat_id", chatID.String()),
		zap.String("session_id", sessionID.String()),
		zap.String("username", target.Username))
}

// broadcastToActive private-delivers the event to every active participant,
// excluding the given user (uuid.Nil excludes nobody)
func (s *Service) broadcastToActive(ctx context.Context, sess *domain.CallSession, evt *domain.SignalEvent, exclude uuid.UUID) {
	for _, participantID := range sess.ActiveParticipants() {
		if participantID == exclude {
			continue
		}
		participant, err := s.users.GetByID(ctx, participantID)
		if err != nil {
			logger.Warn("Skipping unresolvable participant in broadcast",
				zap.String("user_id", participantID.String()),
				zap.Error(err))
			continue
		}
		s.gateway.SendToUser(participant.Username, evt)
	}
}
