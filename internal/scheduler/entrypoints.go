package scheduler

import (
	"context"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/binder"
	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
)

// ChatInfoResolver is the narrow slice of the Conversation Binder the
// scheduler's prompt path depends on, kept as an interface so the binder's
// concrete Postgres-backed implementation can be faked in scheduler tests.
type ChatInfoResolver interface {
	GetChatInfo(ctx context.Context, openid string) (binder.ChatInfo, error)
	RecordChat(ctx context.Context, openid, email, conversationID, parentMessageID, assistantMessageID string) error
	NewConversation(ctx context.Context, openid string) error
}

// Prompt resolves the conversation anchor for openid (unless newChat),
// drives the scheduler's retry kernel pinned to the anchor's account, and
// on success persists the new anchor. Returns the final assistant text.
func (s *Scheduler) Prompt(ctx context.Context, binder ChatInfoResolver, openid, content, model string, newChat bool, autoContinue bool, timeout, upstreamTimeout time.Duration) (string, error) {
	var email, conversationID, parentID string
	if !newChat {
		info, err := binder.GetChatInfo(ctx, openid)
		if err != nil {
			return "", err
		}
		email, conversationID, parentID = info.Email, info.ConversationID, info.ParentID
	}

	op := upstream.AskOp{
		Prompt:         content,
		ConversationID: conversationID,
		ParentID:       parentID,
		Model:          model,
		AutoContinue:   autoContinue,
		Timeout:        upstreamTimeout,
	}

	event, err := s.Work(ctx, op, email, timeout)
	if err != nil {
		if be, ok := boterrors.AsBotError(err); ok && be.Kind == boterrors.KindConversationNotFound {
			if nerr := binder.NewConversation(ctx, openid); nerr != nil {
				s.log.LogError(ctx, nerr, "failed to clear anchor after conversation_not_found")
			}
		}
		return "", err
	}

	if err := binder.RecordChat(ctx, openid, event.Email, event.ConversationID, event.ParentID, event.ParentID); err != nil {
		s.log.LogError(ctx, err, "failed to persist conversation anchor")
	}

	return event.Message, nil
}

// APIRequest is the stateless multiplex path: no openid, no anchor.
func (s *Scheduler) APIRequest(ctx context.Context, op upstream.Operation, timeout time.Duration) (string, error) {
	event, err := s.Work(ctx, op, "", timeout)
	if err != nil {
		return "", err
	}
	return event.Message, nil
}
