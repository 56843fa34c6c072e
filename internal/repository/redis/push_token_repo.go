package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/push"
)

const pushTokenExpiry = 30 * 24 * time.Hour

// PushTokenRepository stores device push tokens in Redis, keyed both by token
// and by owning user so the gateway can ring every device of an offline callee
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tokenKey := fmt.Sprintf("push:token:%s", token.Token)
	if err := r.client.Set(ctx, tokenKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	userTokensKey := fmt.Sprintf("push:user:%s:tokens", token.UserID)
	if err := r.client.SAdd(ctx, userTokensKey, token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}

	if err := r.client.Expire(ctx, userTokensKey, pushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	return nil
}

// GetForUser retrieves all registered tokens for a user
func (r *PushTokenRepository) GetForUser(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)

	tokenStrs, err := r.client.SMembers(ctx, userTokensKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(tokenStrs))
	for _, tokenStr := range tokenStrs {
		tokenKey := fmt.Sprintf("push:token:%s", tokenStr)
		data, err := r.client.Get(ctx, tokenKey).Bytes()
		if err == redis.Nil {
			// Token record expired; drop the dangling set member
			r.client.SRem(ctx, userTokensKey, tokenStr)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}

		token := &push.Token{}
		if err := json.Unmarshal(data, token); err != nil {
			logger.Warn("Skipping malformed push token record",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, token)
	}

	return tokens, nil
}

// Delete removes a token, for example after the provider reports it invalid
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	tokenKey := fmt.Sprintf("push:token:%s", tokenStr)
	if err := r.client.Del(ctx, tokenKey).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)
	if err := r.client.SRem(ctx, userTokensKey, tokenStr).Err(); err != nil {
		return fmt.Errorf("failed to remove token from user set: %w", err)
	}

	return nil
}
