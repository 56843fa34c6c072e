package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamboard-backend/internal/domain"
	apperrors "teamboard-backend/pkg/errors"
)

// ChatRepository reads chat metadata and membership from CockroachDB.
// The chat service owns these tables; the call service only queries them.
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// GetByID retrieves a chat by ID
func (r *ChatRepository) GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	query := `
		SELECT chat_id, board_id, title, type, created_by, created_at
		FROM chats
		WHERE chat_id = $1
	`

	chat := &domain.Chat{}
	err := r.pool.QueryRow(ctx, query, chatID).Scan(
		&chat.ChatID,
		&chat.BoardID,
		&chat.Title,
		&chat.Type,
		&chat.CreatedBy,
		&chat.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ChatNotFoundError()
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	return chat, nil
}

// IsGroupChat reports whether the chat runs calls in group mode
func (r *ChatRepository) IsGroupChat(ctx context.Context, chatID uuid.UUID) (bool, error) {
	query := `SELECT type FROM chats WHERE chat_id = $1`

	var chatType domain.ChatType
	err := r.pool.QueryRow(ctx, query, chatID).Scan(&chatType)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, apperrors.ChatNotFoundError()
		}
		return false, fmt.Errorf("failed to get chat type: %w", err)
	}

	return chatType == domain.ChatTypeGroup, nil
}

// AllParticipants lists every member of the chat with their identity joined in
func (r *ChatRepository) AllParticipants(ctx context.Context, chatID uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT u.user_id, u.username, u.display_name, u.avatar_url, u.created_at
		FROM chat_members cm
		JOIN users u ON u.user_id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY cm.joined_at
	`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat members: %w", err)
	}
	defer rows.Close()

	var members []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.UserID,
			&user.Username,
			&user.DisplayName,
			&user.AvatarURL,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat member: %w", err)
		}
		members = append(members, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat members: %w", err)
	}

	return members, nil
}

// OtherParticipant returns the single chat member that is not the given user.
// Only meaningful for direct chats; returns an error when no such member
// exists.
func (r *ChatRepository) OtherParticipant(ctx context.Context, chatID uuid.UUID, excluding uuid.UUID) (*domain.User, error) {
	query := `
		SELECT u.user_id, u.username, u.display_name, u.avatar_url, u.created_at
		FROM chat_members cm
		JOIN users u ON u.user_id = cm.user_id
		WHERE cm.chat_id = $1 AND cm.user_id != $2
		LIMIT 1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, chatID, excluding).Scan(
		&user.UserID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFoundError("Chat counterpart")
		}
		return nil, fmt.Errorf("failed to get other participant: %w", err)
	}

	return user, nil
}

// IsMember reports whether the user belongs to the chat
func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}

	return exists, nil
}
