package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamboard-backend/internal/domain"
	"teamboard-backend/internal/service/call"
	apperrors "teamboard-backend/pkg/errors"
	"teamboard-backend/pkg/response"
)

// Handler exposes the signaling verbs over REST for clients that cannot hold
// a WebSocket, such as mobile apps answering from a push notification. Events
// still flow out through the delivery gateway.
type Handler struct {
	engine  *call.Service
	gateway call.DeliveryGateway
}

// NewHandler creates a new call handler
func NewHandler(engine *call.Service, gateway call.DeliveryGateway) *Handler {
	return &Handler{
		engine:  engine,
		gateway: gateway,
	}
}

// fail maps structured errors from the lower layers to their HTTP status,
// hiding anything else behind a generic message
func fail(c *gin.Context, err error, fallback string) {
	if apperrors.IsAppError(err) {
		appErr := apperrors.GetAppError(err)
		response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
		return
	}
	response.InternalError(c, fallback)
}

func requireUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// StartCallRequest represents a call start request
type StartCallRequest struct {
	ChatID string `json:"chat_id" binding:"required,uuid"`
	Media  string `json:"media" binding:"required,oneof=audio video"`
}

// StartCall starts or joins a call in a chat
// POST /v1/calls/start
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	evt, err := h.engine.Start(c.Request.Context(), chatID, userID, domain.MediaKind(req.Media))
	if err != nil {
		fail(c, err, "Failed to start call")
		return
	}

	if evt.Mode == domain.CallModeGroup {
		// Group calls announce to the chat topic; direct attaches stay
		// between the caller and the private notification path
		h.gateway.SendToTopic(call.CallTopic(chatID), evt)
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session_id":   evt.SessionID,
		"chat_id":      evt.ChatID,
		"kind":         evt.Kind,
		"participants": evt.Participants,
	})
}

// OfferRequest carries an SDP offer
type OfferRequest struct {
	ChatID string `json:"chat_id" binding:"required,uuid"`
	SDP    string `json:"sdp" binding:"required"`
}

// Offer attaches an SDP offer to the session
// POST /v1/calls/:id/offer
func (h *Handler) Offer(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	evt, err := h.engine.ProcessOffer(c.Request.Context(), chatID, sessionID, userID, req.SDP)
	if err != nil {
		fail(c, err, "Failed to process offer")
		return
	}
	if evt != nil {
		h.gateway.SendToTopic(call.CallTopic(chatID), evt)
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// AnswerRequest carries an SDP answer
type AnswerRequest struct {
	ChatID string `json:"chat_id" binding:"required,uuid"`
	SDP    string `json:"sdp" binding:"required"`
}

// Answer attaches an SDP answer to the session
// POST /v1/calls/:id/answer
func (h *Handler) Answer(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	if err := h.engine.ProcessAnswer(c.Request.Context(), chatID, sessionID, userID, req.SDP); err != nil {
		fail(c, err, "Failed to process answer")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// CandidateRequest carries one opaque ICE candidate
type CandidateRequest struct {
	ChatID    string `json:"chat_id" binding:"required,uuid"`
	Candidate string `json:"candidate" binding:"required"`
}

// Candidate relays an ICE candidate
// POST /v1/calls/:id/candidate
func (h *Handler) Candidate(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req CandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	if err := h.engine.ProcessIceCandidate(c.Request.Context(), chatID, sessionID, userID, req.Candidate); err != nil {
		fail(c, err, "Failed to relay candidate")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// EndCallRequest identifies the chat the session belongs to
type EndCallRequest struct {
	ChatID string `json:"chat_id" binding:"required,uuid"`
}

// EndCall ends the caller's involvement in the call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req EndCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	if err := h.engine.End(c.Request.Context(), chatID, sessionID, userID); err != nil {
		fail(c, err, "Failed to end call")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call ended",
		"session_id": sessionID,
	})
}

// InviteRequest names the user to invite
type InviteRequest struct {
	ChatID    string `json:"chat_id" binding:"required,uuid"`
	InviteeID string `json:"invitee_id" binding:"required,uuid"`
}

// Invite invites a user to an ongoing group call
// POST /v1/calls/:id/invite
func (h *Handler) Invite(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}
	inviteeID, err := uuid.Parse(req.InviteeID)
	if err != nil {
		response.ValidationError(c, "Invalid invitee ID")
		return
	}

	if err := h.engine.Invite(c.Request.Context(), chatID, sessionID, userID, inviteeID); err != nil {
		fail(c, err, "Failed to send invite")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// MediaStatusRequest carries a mute or screen-share toggle
type MediaStatusRequest struct {
	ChatID  string `json:"chat_id" binding:"required,uuid"`
	Kind    string `json:"kind" binding:"required,oneof=toggle_audio toggle_video screen_share_started screen_share_ended"`
	Enabled bool   `json:"enabled"`
}

// MediaStatus broadcasts a media toggle to the other participants
// POST /v1/calls/:id/media
func (h *Handler) MediaStatus(c *gin.Context) {
	sessionID, userID, ok := h.sessionAndUser(c)
	if !ok {
		return
	}

	var req MediaStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	if err := h.engine.MediaStatus(c.Request.Context(), chatID, sessionID, userID, domain.SignalKind(req.Kind), req.Enabled); err != nil {
		fail(c, err, "Failed to broadcast media status")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID})
}

func (h *Handler) sessionAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := requireUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, userID, true
}
