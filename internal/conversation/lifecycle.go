// ABOUTME: Conversation state machine: PENDING -> OPEN <-> CLOSED, plus role resolution
// ABOUTME: Idempotent start, general-chat singleton, assign, close, reopen and delete

package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/2389/shopchat/internal/metrics"
	"github.com/2389/shopchat/internal/store"
)

// roleOf resolves senderID against the conversation's recorded parties.
func roleOf(conv *store.Conversation, senderID string) (store.SenderRole, bool) {
	switch {
	case conv.IsCustomer(senderID):
		return store.RoleCustomer, true
	case conv.IsAdmin(senderID):
		return store.RoleAdmin, true
	default:
		return "", false
	}
}

// applyAssign sets the admin and moves the conversation to OPEN. Closed
// conversations are left alone; they must be reopened explicitly.
func applyAssign(conv *store.Conversation, adminID string, now time.Time) bool {
	if conv.Status == store.StatusClosed {
		return false
	}
	if conv.IsAdmin(adminID) && conv.Status == store.StatusOpen {
		return false
	}
	id := adminID
	conv.AdminID = &id
	conv.Status = store.StatusOpen
	conv.UpdatedAt = now
	return true
}

func applyClose(conv *store.Conversation, now time.Time) bool {
	if conv.Status == store.StatusClosed {
		return false
	}
	at := now
	conv.Status = store.StatusClosed
	conv.ClosedAt = &at
	conv.UpdatedAt = now
	return true
}

func applyReopen(conv *store.Conversation, now time.Time) bool {
	if conv.Status != store.StatusClosed {
		return false
	}
	conv.Status = store.StatusOpen
	conv.ClosedAt = nil
	conv.UpdatedAt = now
	return true
}

// StartChat returns the customer's active conversation about productID,
// creating a PENDING one if none exists. An empty productID starts nothing;
// use GetOrCreateGeneralChat for product-less support.
func (s *Service) StartChat(ctx context.Context, productID, customerID, subject string) (*store.Conversation, error) {
	if customerID == "" {
		return nil, newError(ErrInvalidArgument, "start", "customer id is required")
	}
	if productID == "" {
		return s.GetOrCreateGeneralChat(ctx, customerID)
	}

	existing, err := s.store.FindActiveConversation(ctx, productID, customerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError("start", "conversation", err)
	}

	now := s.now()
	pid := productID
	conv := &store.Conversation{
		ID:         s.newID(),
		ProductID:  &pid,
		CustomerID: customerID,
		Subject:    subject,
		Status:     store.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost a race with a concurrent start; return the winner.
			winner, lookupErr := s.store.FindActiveConversation(ctx, productID, customerID)
			if lookupErr != nil {
				return nil, storeError("start", "conversation", lookupErr)
			}
			return winner, nil
		}
		return nil, storeError("start", "conversation", err)
	}

	s.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"product_id", productID,
		"customer_id", customerID)
	return conv, nil
}

// GetOrCreateGeneralChat returns the customer's single general conversation,
// creating it OPEN if it doesn't exist yet.
func (s *Service) GetOrCreateGeneralChat(ctx context.Context, customerID string) (*store.Conversation, error) {
	if customerID == "" {
		return nil, newError(ErrInvalidArgument, "start", "customer id is required")
	}

	existing, err := s.store.FindGeneralConversation(ctx, customerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError("start", "conversation", err)
	}

	now := s.now()
	conv := &store.Conversation{
		ID:         s.newID(),
		CustomerID: customerID,
		Subject:    s.generalSubject,
		Status:     store.StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			winner, lookupErr := s.store.FindGeneralConversation(ctx, customerID)
			if lookupErr != nil {
				return nil, storeError("start", "conversation", lookupErr)
			}
			return winner, nil
		}
		return nil, storeError("start", "conversation", err)
	}

	s.logger.Info("general conversation created",
		"conversation_id", conv.ID,
		"customer_id", customerID)
	return conv, nil
}

// Assign sets adminID as the conversation's admin and opens it. Assigning a
// closed conversation is a no-op that returns it unchanged.
func (s *Service) Assign(ctx context.Context, conversationID, adminID string) (*store.Conversation, error) {
	if adminID == "" {
		return nil, newError(ErrInvalidArgument, "assign", "admin id is required")
	}

	defer s.lockConversation(conversationID)()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("assign", "conversation", err)
	}
	if conv.IsCustomer(adminID) {
		return nil, newError(ErrInvalidArgument, "assign", "the customer cannot be the admin")
	}

	from := conv.Status
	if !applyAssign(conv, adminID, s.now()) {
		return conv, nil
	}
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, storeError("assign", "conversation", err)
	}
	metrics.RecordTransition(string(from), string(conv.Status))

	s.logger.Info("conversation assigned", "conversation_id", conv.ID, "admin_id", adminID)
	s.appendSystem(ctx, conv, "Assigned to "+s.displayName(ctx, adminID, ""))
	return conv, nil
}

// Close closes the conversation and stamps closedAt. Closing a closed
// conversation is a no-op.
func (s *Service) Close(ctx context.Context, conversationID string) (*store.Conversation, error) {
	defer s.lockConversation(conversationID)()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("close", "conversation", err)
	}

	from := conv.Status
	if !applyClose(conv, s.now()) {
		return conv, nil
	}
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, storeError("close", "conversation", err)
	}
	metrics.RecordTransition(string(from), string(conv.Status))

	s.logger.Info("conversation closed", "conversation_id", conv.ID)
	s.appendSystem(ctx, conv, "Conversation closed")
	return conv, nil
}

// Reopen moves a closed conversation back to OPEN and clears closedAt.
// Conversations that are not closed are returned unchanged. Reopening fails
// with Conflict if the customer has since started another active
// conversation about the same product.
func (s *Service) Reopen(ctx context.Context, conversationID string) (*store.Conversation, error) {
	defer s.lockConversation(conversationID)()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("reopen", "conversation", err)
	}

	from := conv.Status
	if !applyReopen(conv, s.now()) {
		return conv, nil
	}
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, storeError("reopen", "conversation", err)
	}
	metrics.RecordTransition(string(from), string(conv.Status))

	s.logger.Info("conversation reopened", "conversation_id", conv.ID)
	s.appendSystem(ctx, conv, "Conversation reopened")
	return conv, nil
}

// Delete removes a conversation and all of its messages.
func (s *Service) Delete(ctx context.Context, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return storeError("delete", "conversation", err)
	}
	s.logger.Info("conversation deleted", "conversation_id", conversationID)
	return nil
}

// systemSenderID attributes SYSTEM messages.
const systemSenderID = "system"

// appendSystem records a lifecycle event in the log and broadcasts it. System
// messages are stored already read so they never count as unread. Failures
// are logged; the transition itself has already been persisted.
func (s *Service) appendSystem(ctx context.Context, conv *store.Conversation, body string) {
	if !s.systemMessages {
		return
	}

	now := s.now()
	msg := &store.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       systemSenderID,
		SenderName:     "System",
		SenderRole:     store.RoleAdmin,
		Body:           body,
		Type:           store.MessageTypeSystem,
		IsRead:         true,
		ReadAt:         &now,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to record system message",
			"conversation_id", conv.ID,
			"error", err)
		return
	}
	metrics.RecordMessageSent(string(msg.Type), string(msg.SenderRole))
	s.broadcast(msg, "")
}
