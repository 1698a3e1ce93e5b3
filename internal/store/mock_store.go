// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while enforcing the same uniqueness rules

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	convSeq       map[string]int64         // insertion order, used as a tiebreaker
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
	messageIndex  map[string]*Message      // keyed by message ID
	users         map[string]*User
	seq           int64

	// SaveErr, when set, is returned by SaveMessage.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		convSeq:       make(map[string]int64),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		users:         make(map[string]*User),
	}
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	if c.ProductID != nil {
		v := *c.ProductID
		cp.ProductID = &v
	}
	if c.AdminID != nil {
		v := *c.AdminID
		cp.AdminID = &v
	}
	if c.ClosedAt != nil {
		v := *c.ClosedAt
		cp.ClosedAt = &v
	}
	return &cp
}

func copyMessage(m *Message) *Message {
	cp := *m
	if m.ProductContext != nil {
		pc := *m.ProductContext
		cp.ProductContext = &pc
	}
	if m.ReadAt != nil {
		v := *m.ReadAt
		cp.ReadAt = &v
	}
	return &cp
}

// conflictsLocked reports whether conv would break a uniqueness rule against
// any other stored conversation. Must be called with mu held.
func (m *MockStore) conflictsLocked(conv *Conversation) bool {
	for id, other := range m.conversations {
		if id == conv.ID || other.CustomerID != conv.CustomerID {
			continue
		}
		if conv.ProductID == nil && other.ProductID == nil {
			return true
		}
		if conv.ProductID != nil && other.ProductID != nil &&
			*conv.ProductID == *other.ProductID &&
			conv.IsActive() && other.IsActive() {
			return true
		}
	}
	return false
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}
	if m.conflictsLocked(conv) {
		return ErrDuplicateConversation
	}

	m.seq++
	m.conversations[conv.ID] = copyConversation(conv)
	m.convSeq[conv.ID] = m.seq
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// UpdateConversation replaces the mutable fields of a conversation.
func (m *MockStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}

	updated := copyConversation(existing)
	updated.AdminID = conv.AdminID
	updated.Subject = conv.Subject
	updated.Status = conv.Status
	updated.ClosedAt = conv.ClosedAt
	updated.UpdatedAt = conv.UpdatedAt
	if m.conflictsLocked(updated) {
		return ErrDuplicateConversation
	}

	m.conversations[conv.ID] = copyConversation(updated)
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	for _, msg := range m.messages[id] {
		delete(m.messageIndex, msg.ID)
	}
	delete(m.messages, id)
	delete(m.conversations, id)
	delete(m.convSeq, id)
	return nil
}

// FindActiveConversation returns the active conversation for a product and customer.
func (m *MockStore) FindActiveConversation(ctx context.Context, productID, customerID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conv := range m.conversations {
		if conv.ProductID != nil && *conv.ProductID == productID &&
			conv.CustomerID == customerID && conv.IsActive() {
			return copyConversation(conv), nil
		}
	}
	return nil, ErrNotFound
}

// FindGeneralConversation returns the customer's general conversation.
func (m *MockStore) FindGeneralConversation(ctx context.Context, customerID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conv := range m.conversations {
		if conv.ProductID == nil && conv.CustomerID == customerID {
			return copyConversation(conv), nil
		}
	}
	return nil, ErrNotFound
}

// filterLocked returns copies of matching conversations, most recent first.
func (m *MockStore) filterLocked(match func(*Conversation) bool) []*Conversation {
	var out []*Conversation
	for _, conv := range m.conversations {
		if match(conv) {
			out = append(out, copyConversation(conv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return m.convSeq[out[i].ID] > m.convSeq[out[j].ID]
	})
	return out
}

// ListConversationsByCustomer returns a customer's conversations.
func (m *MockStore) ListConversationsByCustomer(ctx context.Context, customerID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(c *Conversation) bool { return c.CustomerID == customerID }), nil
}

// ListConversationsByAdmin returns an admin's conversations.
func (m *MockStore) ListConversationsByAdmin(ctx context.Context, adminID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(c *Conversation) bool { return c.IsAdmin(adminID) }), nil
}

// ListConversationsByProduct returns conversations about a product.
func (m *MockStore) ListConversationsByProduct(ctx context.Context, productID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(c *Conversation) bool {
		return c.ProductID != nil && *c.ProductID == productID
	}), nil
}

// ListAllConversations returns every conversation.
func (m *MockStore) ListAllConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(*Conversation) bool { return true }), nil
}

// ListUnassignedConversations returns unclaimed PENDING conversations, oldest first.
func (m *MockStore) ListUnassignedConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.filterLocked(func(c *Conversation) bool {
		return c.Status == StatusPending && !c.HasAdmin()
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.convSeq[out[i].ID] < m.convSeq[out[j].ID]
	})
	return out, nil
}

// ListConversationsByAdminPage returns one page of an admin's conversations.
func (m *MockStore) ListConversationsByAdminPage(ctx context.Context, adminID string, offset, limit int) ([]*Conversation, int, error) {
	all, _ := m.ListConversationsByAdmin(ctx, adminID)
	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// SaveMessage appends a message to its conversation.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	cp := copyMessage(msg)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], cp)
	m.messageIndex[msg.ID] = cp
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListMessages returns a conversation's messages in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, copyMessage(msg))
	}
	return out, nil
}

// MarkMessageRead marks a message read if it isn't already.
func (m *MockStore) MarkMessageRead(ctx context.Context, id string, readAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return ErrNotFound
	}
	if !msg.IsRead {
		msg.IsRead = true
		at := readAt
		msg.ReadAt = &at
	}
	return nil
}

func unreadFor(msg *Message, readerID string) bool {
	return !msg.IsRead && msg.SenderID != readerID
}

// MarkConversationRead marks every unread message not sent by readerID.
func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.messages[conversationID] {
		if unreadFor(msg, readerID) {
			msg.IsRead = true
			at := readAt
			msg.ReadAt = &at
			n++
		}
	}
	return n, nil
}

// ListUnreadMessages returns the reader's unread messages.
func (m *MockStore) ListUnreadMessages(ctx context.Context, conversationID, readerID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages[conversationID] {
		if unreadFor(msg, readerID) {
			out = append(out, copyMessage(msg))
		}
	}
	return out, nil
}

// CountUnread counts the reader's unread messages.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.messages[conversationID] {
		if unreadFor(msg, readerID) {
			n++
		}
	}
	return n, nil
}

// LatestMessage returns the last message appended.
func (m *MockStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return copyMessage(msgs[len(msgs)-1]), nil
}

// UpsertUser stores or refreshes a user.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	existing, ok := m.users[user.ID]
	if !ok {
		cp := *user
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		m.users[user.ID] = &cp
		return nil
	}
	if user.DisplayName != "" {
		existing.DisplayName = user.DisplayName
	}
	if user.Role != "" {
		existing.Role = user.Role
	}
	existing.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
