// ABOUTME: Store interfaces and data types for shopchat persistence
// ABOUTME: Defines Conversation, Message, User and the store contracts the chat core consumes

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a write would create a second active
// conversation for a (product, customer) pair or a second general conversation
// for a customer.
var ErrDuplicateConversation = errors.New("conversation already exists")

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusPending ConversationStatus = "PENDING"
	StatusOpen    ConversationStatus = "OPEN"
	StatusClosed  ConversationStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusClosed:
		return true
	}
	return false
}

// SenderRole is the role a sender held in a conversation when a message was sent.
type SenderRole string

const (
	RoleCustomer SenderRole = "CUSTOMER"
	RoleAdmin    SenderRole = "ADMIN"
)

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Conversation is a chat thread between one customer and at most one admin,
// optionally scoped to a product. A nil ProductID marks the customer's
// general support conversation.
type Conversation struct {
	ID         string
	ProductID  *string
	CustomerID string
	AdminID    *string
	Subject    string
	Status     ConversationStatus
	ClosedAt   *time.Time // set only while CLOSED
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsGeneral reports whether the conversation is not tied to a product.
func (c *Conversation) IsGeneral() bool {
	return c.ProductID == nil
}

// IsActive reports whether the conversation is PENDING or OPEN.
func (c *Conversation) IsActive() bool {
	return c.Status != StatusClosed
}

// HasAdmin reports whether an admin has been assigned.
func (c *Conversation) HasAdmin() bool {
	return c.AdminID != nil && *c.AdminID != ""
}

// IsCustomer reports whether userID is the conversation's customer.
func (c *Conversation) IsCustomer(userID string) bool {
	return userID != "" && userID == c.CustomerID
}

// IsAdmin reports whether userID is the conversation's assigned admin.
func (c *Conversation) IsAdmin(userID string) bool {
	return c.HasAdmin() && userID == *c.AdminID
}

// ProductContext is a display-only snapshot of the product being discussed,
// captured when the message was sent.
type ProductContext struct {
	ProductID string
	Name      string
	ImageURL  string
	Price     decimal.Decimal
}

// Message is a single entry in a conversation's log. SenderName and SenderRole
// are snapshots taken at send time and never change afterwards.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     SenderRole
	Body           string
	Type           MessageType
	AttachmentURL  string
	ProductContext *ProductContext
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// User is a directory entry used to resolve display names.
type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConversationStore persists conversations. Listings are ordered most recently
// updated first unless documented otherwise.
type ConversationStore interface {
	// CreateConversation inserts a conversation. Returns ErrDuplicateConversation
	// if it would violate the one-active-per-pair or one-general-per-customer rule.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// UpdateConversation writes admin, subject, status, closed_at and updated_at.
	UpdateConversation(ctx context.Context, conv *Conversation) error
	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	FindActiveConversation(ctx context.Context, productID, customerID string) (*Conversation, error)
	FindGeneralConversation(ctx context.Context, customerID string) (*Conversation, error)

	ListConversationsByCustomer(ctx context.Context, customerID string) ([]*Conversation, error)
	ListConversationsByAdmin(ctx context.Context, adminID string) ([]*Conversation, error)
	ListConversationsByProduct(ctx context.Context, productID string) ([]*Conversation, error)
	ListAllConversations(ctx context.Context) ([]*Conversation, error)
	// ListUnassignedConversations returns PENDING conversations with no admin, oldest first.
	ListUnassignedConversations(ctx context.Context) ([]*Conversation, error)
	// ListConversationsByAdminPage returns one page of an admin's conversations
	// and the total number of conversations assigned to that admin.
	ListConversationsByAdminPage(ctx context.Context, adminID string, offset, limit int) ([]*Conversation, int, error)
}

// MessageStore persists messages. Messages are returned in insertion order.
type MessageStore interface {
	// SaveMessage appends a message and bumps the owning conversation's updated_at.
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// MarkMessageRead sets is_read and read_at. Already-read messages are left untouched.
	MarkMessageRead(ctx context.Context, id string, readAt time.Time) error
	// MarkConversationRead marks every unread message not sent by readerID as read
	// and returns how many were changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error)
	ListUnreadMessages(ctx context.Context, conversationID, readerID string) ([]*Message, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
	// LatestMessage returns the most recent message or ErrNotFound if the log is empty.
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
}

// UserStore is the display-name directory.
type UserStore interface {
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
}

// Store combines every persistence contract the service needs.
type Store interface {
	ConversationStore
	MessageStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}
