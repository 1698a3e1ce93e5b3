// ABOUTME: Message log reads and read tracking for the chat core
// ABOUTME: Single and bulk mark-read, unread counts, latest message, history and listing summaries

package conversation

import (
	"context"
	"errors"

	"github.com/2389/shopchat/internal/store"
)

// ListMessages returns a conversation's messages in the order they were sent.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError("messages", "conversation", err)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, storeError("messages", "conversation", err)
	}
	return msgs, nil
}

// MarkRead marks a single message read. It is idempotent. A reader's own
// messages are left untouched, matching the bulk predicate; pass an empty
// readerID to mark regardless of sender.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("mark read", "message", err)
	}
	if msg.IsRead || (readerID != "" && msg.SenderID == readerID) {
		return msg, nil
	}

	if err := s.store.MarkMessageRead(ctx, messageID, s.now()); err != nil {
		return nil, storeError("mark read", "message", err)
	}

	msg, err = s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("mark read", "message", err)
	}
	return msg, nil
}

// MarkAllRead marks every message in the conversation not sent by readerID
// as read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if readerID == "" {
		return 0, newError(ErrInvalidArgument, "mark all read", "reader id is required")
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return 0, storeError("mark all read", "conversation", err)
	}

	n, err := s.store.MarkConversationRead(ctx, conversationID, readerID, s.now())
	if err != nil {
		return 0, storeError("mark all read", "conversation", err)
	}
	if n > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"reader_id", readerID,
			"count", n)
	}
	return n, nil
}

// UnreadCount counts messages not sent by readerID that are still unread.
func (s *Service) UnreadCount(ctx context.Context, conversationID, readerID string) (int, error) {
	if readerID == "" {
		return 0, newError(ErrInvalidArgument, "unread", "reader id is required")
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return 0, storeError("unread", "conversation", err)
	}

	n, err := s.store.CountUnread(ctx, conversationID, readerID)
	if err != nil {
		return 0, storeError("unread", "conversation", err)
	}
	return n, nil
}

// UnreadMessages returns the messages UnreadCount counts.
func (s *Service) UnreadMessages(ctx context.Context, conversationID, readerID string) ([]*store.Message, error) {
	if readerID == "" {
		return nil, newError(ErrInvalidArgument, "unread", "reader id is required")
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError("unread", "conversation", err)
	}

	msgs, err := s.store.ListUnreadMessages(ctx, conversationID, readerID)
	if err != nil {
		return nil, storeError("unread", "conversation", err)
	}
	return msgs, nil
}

// LatestMessage returns the newest message, or nil if the conversation has none.
func (s *Service) LatestMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError("latest", "conversation", err)
	}
	msg, err := s.store.LatestMessage(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("latest", "conversation", err)
	}
	return msg, nil
}

// Summary is a conversation with the fields an inbox needs.
type Summary struct {
	Conversation *store.Conversation
	Latest       *store.Message // nil for an empty conversation
	Unread       int
}

// Summarize decorates conversations with their latest message and readerID's
// unread count.
func (s *Service) Summarize(ctx context.Context, convs []*store.Conversation, readerID string) ([]*Summary, error) {
	out := make([]*Summary, 0, len(convs))
	for _, conv := range convs {
		sum := &Summary{Conversation: conv}

		latest, err := s.store.LatestMessage(ctx, conv.ID)
		switch {
		case err == nil:
			sum.Latest = latest
		case !errors.Is(err, store.ErrNotFound):
			return nil, storeError("summarize", "conversation", err)
		}

		if readerID != "" {
			n, err := s.store.CountUnread(ctx, conv.ID, readerID)
			if err != nil {
				return nil, storeError("summarize", "conversation", err)
			}
			sum.Unread = n
		}
		out = append(out, sum)
	}
	return out, nil
}
