package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity facet the call service needs: a display name for
// outbound events and a routable username for the delivery gateway
type User struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the username
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
