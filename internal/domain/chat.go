package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatType mirrors the board's chat model: a direct chat between two members
// or an open group chat attached to a project board
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// Chat is the slice of the chat entity the call service consumes. Membership
// and persistence belong to the chat service; this type only carries what is
// needed to derive a call's mode and roster.
type Chat struct {
	ChatID    uuid.UUID `json:"chat_id"`
	BoardID   uuid.UUID `json:"board_id,omitempty"`
	Title     string    `json:"title"`
	Type      ChatType  `json:"type"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// IsGroup reports whether calls in this chat run in group mode
func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

// CallMode maps the chat type to the call mode derived at session creation
func (c *Chat) CallMode() CallMode {
	if c.IsGroup() {
		return CallModeGroup
	}
	return CallModeDirect
}

// ChatMember is one row of a chat's membership
type ChatMember struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
