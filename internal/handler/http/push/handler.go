package push

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redisrepo "teamboard-backend/internal/repository/redis"
	"teamboard-backend/pkg/push"
	"teamboard-backend/pkg/response"
)

// Handler manages device push token registration
type Handler struct {
	tokens *redisrepo.PushTokenRepository
}

// NewHandler creates a new push token handler
func NewHandler(tokens *redisrepo.PushTokenRepository) *Handler {
	return &Handler{tokens: tokens}
}

// RegisterTokenRequest registers one device token
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=fcm apns"`
	DeviceID string `json:"device_id"`
	Platform string `json:"platform" binding:"omitempty,oneof=ios android"`
}

// RegisterToken stores a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	token := &push.Token{
		UserID:   userID,
		Token:    req.Token,
		Type:     push.TokenType(req.Type),
		DeviceID: req.DeviceID,
		Platform: req.Platform,
		Active:   true,
	}
	if err := h.tokens.Store(c.Request.Context(), token); err != nil {
		response.InternalError(c, "Failed to register token")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"id": token.ID})
}

// UnregisterToken removes a device token
// DELETE /v1/push/tokens/:token
func (h *Handler) UnregisterToken(c *gin.Context) {
	tokenStr := c.Param("token")
	if tokenStr == "" {
		response.ValidationError(c, "Token required")
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	if err := h.tokens.Delete(c.Request.Context(), userID, tokenStr); err != nil {
		response.InternalError(c, "Failed to unregister token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token removed"})
}
