// Package binder persists the per-end-user conversation anchor: which
// account owns a user's thread and where the thread last left off, updated
// after every successful turn.
package binder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/storage/pg/sqlc"
)

// ChatInfo is the resolved (account, conversation, parent) triple for an
// end-user. A zero value means the user has no anchor yet.
type ChatInfo struct {
	Email          string
	ConversationID string
	ParentID       string
}

// Binder persists and resolves conversation anchors.
type Binder struct {
	queries sqlc.Querier
	log     *logger.Logger
}

// New constructs a Binder over the given query layer.
func New(queries sqlc.Querier, log *logger.Logger) *Binder {
	return &Binder{queries: queries, log: log.WithComponent("binder")}
}

// GetChatInfo resolves the anchor for openid, or a zero ChatInfo if none
// exists yet.
func (b *Binder) GetChatInfo(ctx context.Context, openid string) (ChatInfo, error) {
	row, err := b.queries.GetChatInfo(ctx, openid)
	if errors.Is(err, sqlc.ErrNotFound) {
		return ChatInfo{}, nil
	}
	if err != nil {
		return ChatInfo{}, err
	}
	return ChatInfo{Email: row.Email, ConversationID: row.ConversationID, ParentID: row.ParentID}, nil
}

// NewConversation clears the user's conversation_id, forcing the next
// prompt to start a fresh thread.
func (b *Binder) NewConversation(ctx context.Context, openid string) error {
	if _, err := b.queries.GetUserByOpenID(ctx, openid); err != nil {
		if errors.Is(err, sqlc.ErrNotFound) {
			return nil
		}
		return err
	}
	return b.queries.UpdateUserConversationID(ctx, sqlc.UpdateUserConversationIDParams{
		OpenID:         openid,
		ConversationID: "",
	})
}

// RecordChat persists the anchor after a successful turn: create the user
// and conversation rows if this is the user's first turn, update the
// existing conversation row if it still matches, or create a new
// conversation row and repoint the user if the thread changed underneath
// it (e.g. a new_chat).
func (b *Binder) RecordChat(ctx context.Context, openid, email, conversationID, parentMessageID, assistantMessageID string) error {
	user, err := b.queries.GetUserByOpenID(ctx, openid)
	switch {
	case errors.Is(err, sqlc.ErrNotFound):
		created, err := b.queries.CreateUser(ctx, sqlc.CreateUserParams{
			OpenID:         openid,
			ConversationID: conversationID,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if _, err := b.queries.CreateConversation(ctx, sqlc.CreateConversationParams{
			ConversationID: conversationID,
			CurrentNode:    parentMessageID,
			OwnerEmail:     email,
			UserID:         created.ID,
		}); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return b.recordMessage(ctx, assistantMessageID, parentMessageID, conversationID)

	case err != nil:
		return fmt.Errorf("get user: %w", err)
	}

	if user.ConversationID == conversationID {
		if err := b.queries.UpdateConversationCurrentNode(ctx, sqlc.UpdateConversationCurrentNodeParams{
			ConversationID: conversationID,
			CurrentNode:    parentMessageID,
		}); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return b.recordMessage(ctx, assistantMessageID, parentMessageID, conversationID)
	}

	_, err = b.queries.GetConversationByID(ctx, conversationID)
	if err != nil && !errors.Is(err, sqlc.ErrNotFound) {
		return fmt.Errorf("get conversation: %w", err)
	}
	if err == nil {
		if err := b.queries.UpdateConversationCurrentNode(ctx, sqlc.UpdateConversationCurrentNodeParams{
			ConversationID: conversationID,
			CurrentNode:    parentMessageID,
		}); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
	} else {
		if _, err := b.queries.CreateConversation(ctx, sqlc.CreateConversationParams{
			ConversationID: conversationID,
			CurrentNode:    parentMessageID,
			OwnerEmail:     email,
			UserID:         user.ID,
		}); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}

	if err := b.queries.UpdateUserConversationID(ctx, sqlc.UpdateUserConversationIDParams{
		OpenID:         openid,
		ConversationID: conversationID,
	}); err != nil {
		return fmt.Errorf("repoint user: %w", err)
	}
	return b.recordMessage(ctx, assistantMessageID, parentMessageID, conversationID)
}

// recordMessage persists an audit row for the assistant turn. Missing ids
// (e.g. a fake upstream in tests) are tolerated since the hot path's
// correctness depends only on the conversation anchor, not this log.
func (b *Binder) recordMessage(ctx context.Context, messageID, parentID, conversationID string) error {
	if messageID == "" {
		return nil
	}
	author, _ := json.Marshal(map[string]string{"role": "assistant"})
	var parent *string
	if parentID != "" {
		parent = &parentID
	}
	err := b.queries.CreateMessage(ctx, sqlc.CreateMessageParams{
		MessageID:      messageID,
		Author:         author,
		ParentID:       parent,
		ConversationID: conversationID,
	})
	if err != nil {
		b.log.LogError(ctx, err, "failed to record message audit row")
	}
	return nil
}
