// ABOUTME: Chat orchestrator composing the state machine, message log, notifier and live hub
// ABOUTME: Record first, then notify and broadcast; side-effect failures never fail a send

package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/shopchat/internal/metrics"
	"github.com/2389/shopchat/internal/store"
)

// Notifier delivers a push notification to a user who may be offline.
type Notifier interface {
	Notify(ctx context.Context, recipientID, title, body, deepLink string) error
}

// Broadcaster fans a persisted message out to live viewers of its conversation.
// excludeConnID, when non-empty, is skipped.
type Broadcaster interface {
	Broadcast(msg *store.Message, excludeConnID string)
}

// Presence reports whether a user is currently watching a conversation live.
type Presence interface {
	IsWatching(conversationID, userID string) bool
}

// ClaimAuthorizer decides whether a third party may implicitly claim an
// unassigned conversation by replying to it.
type ClaimAuthorizer interface {
	CanClaim(ctx context.Context, conv *store.Conversation, userID string) bool
}

type allowAllClaims struct{}

func (allowAllClaims) CanClaim(context.Context, *store.Conversation, string) bool { return true }

// Options configures a Service. Zero values pick defaults.
type Options struct {
	Notifier       Notifier
	Authorizer     ClaimAuthorizer
	Logger         *slog.Logger
	NotifyTimeout  time.Duration // per notification, default 5s
	SystemMessages bool          // append SYSTEM messages on assign/close/reopen
	GeneralSubject string        // subject for general conversations
	DeepLinkPrefix string        // prefix for notification deep links, default "/chat/"
}

// Service is the public operation surface of the chat core.
type Service struct {
	store          store.Store
	notifier       Notifier
	authorizer     ClaimAuthorizer
	logger         *slog.Logger
	notifyTimeout  time.Duration
	systemMessages bool
	generalSubject string
	deepLinkPrefix string

	mu          sync.RWMutex
	broadcaster Broadcaster
	presence    Presence

	// convLocks serialize state changes per conversation: claims, assign,
	// close and reopen all read and write under the same stripe.
	convLocks [convLockStripes]sync.Mutex

	wg sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New creates a Service backed by s.
func New(s store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authorizer := opts.Authorizer
	if authorizer == nil {
		authorizer = allowAllClaims{}
	}
	timeout := opts.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	subject := opts.GeneralSubject
	if subject == "" {
		subject = "General support"
	}
	prefix := opts.DeepLinkPrefix
	if prefix == "" {
		prefix = "/chat/"
	}

	return &Service{
		store:          s,
		notifier:       opts.Notifier,
		authorizer:     authorizer,
		logger:         logger.With("component", "conversation"),
		notifyTimeout:  timeout,
		systemMessages: opts.SystemMessages,
		generalSubject: subject,
		deepLinkPrefix: prefix,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// SetBroadcaster wires the live hub. If b also implements Presence it is used
// to skip push notifications for recipients who are watching live.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
	if p, ok := b.(Presence); ok {
		s.presence = p
	}
}

const convLockStripes = 64

// lockConversation acquires the stripe for conversationID and returns its unlock.
func (s *Service) lockConversation(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &s.convLocks[h.Sum32()%convLockStripes]
	mu.Lock()
	return mu.Unlock
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// SendRequest is the input to SendMessage.
type SendRequest struct {
	ConversationID string
	SenderID       string
	SenderName     string // display name hint when the directory has none
	Body           string
	Type           store.MessageType // defaults to TEXT
	AttachmentURL  string
	ProductContext *store.ProductContext

	// OriginConnID is the live connection the message arrived on, if any.
	// It is excluded from the broadcast so senders don't see an echo.
	OriginConnID string
}

func (r *SendRequest) validate() error {
	if r.ConversationID == "" {
		return newError(ErrInvalidArgument, "send", "conversation id is required")
	}
	if r.SenderID == "" {
		return newError(ErrInvalidArgument, "send", "sender id is required")
	}
	if r.Type == "" {
		r.Type = store.MessageTypeText
	}
	if !r.Type.Valid() || r.Type == store.MessageTypeSystem {
		return newError(ErrInvalidArgument, "send", fmt.Sprintf("unsupported message type %q", r.Type))
	}
	if r.Body == "" && r.AttachmentURL == "" {
		return newError(ErrInvalidArgument, "send", "message body or attachment is required")
	}
	if r.Type != store.MessageTypeText && r.AttachmentURL == "" {
		return newError(ErrInvalidArgument, "send", "attachment url is required for "+string(r.Type))
	}
	return nil
}

// SendMessage validates the sender, persists the message, then notifies the
// other party and fans the message out to live viewers. Only validation and
// persistence failures are returned.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*store.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, storeError("send", "conversation", err)
	}

	role, conv, err := s.resolveSender(ctx, conv, req.SenderID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		SenderName:     s.displayName(ctx, req.SenderID, req.SenderName),
		SenderRole:     role,
		Body:           req.Body,
		Type:           req.Type,
		AttachmentURL:  req.AttachmentURL,
		ProductContext: req.ProductContext,
		CreatedAt:      s.now(),
	}

	// Record first, then act.
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, storeError("send", "conversation", err)
	}
	metrics.RecordMessageSent(string(msg.Type), string(msg.SenderRole))

	s.logger.Debug("message sent",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"role", msg.SenderRole)

	s.notifyOtherParty(conv, msg)
	s.broadcast(msg, req.OriginConnID)

	return msg, nil
}

// resolveSender applies the membership rules and returns the sender's role
// and the conversation as it stands after any implicit claim.
func (s *Service) resolveSender(ctx context.Context, conv *store.Conversation, senderID string) (store.SenderRole, *store.Conversation, error) {
	if role, ok := roleOf(conv, senderID); ok {
		return role, conv, nil
	}

	if conv.CustomerID == "" || conv.HasAdmin() || conv.Status == store.StatusClosed {
		return "", nil, newError(ErrForbidden, "send", "sender is not part of this conversation")
	}

	if !s.authorizer.CanClaim(ctx, conv, senderID) {
		return "", nil, newError(ErrForbidden, "send", "sender may not claim this conversation")
	}

	claimed, err := s.claim(ctx, conv.ID, senderID)
	if err != nil {
		return "", nil, err
	}
	role, ok := roleOf(claimed, senderID)
	if !ok {
		return "", nil, newError(ErrForbidden, "send", "sender is not part of this conversation")
	}
	return role, claimed, nil
}

// claim assigns senderID as admin if the conversation is still unassigned.
// The conversation is re-read under its lock so a concurrent claim or
// transition is observed rather than overwritten.
func (s *Service) claim(ctx context.Context, conversationID, senderID string) (*store.Conversation, error) {
	defer s.lockConversation(conversationID)()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("send", "conversation", err)
	}
	if conv.HasAdmin() || conv.Status == store.StatusClosed {
		return conv, nil
	}

	from := conv.Status
	applyAssign(conv, senderID, s.now())
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, storeError("send", "conversation", err)
	}
	metrics.RecordTransition(string(from), string(conv.Status))

	s.logger.Info("conversation claimed",
		"conversation_id", conv.ID,
		"admin_id", senderID)
	return conv, nil
}

// displayName resolves a sender's display name from the directory, falling
// back to the supplied hint and then the id itself.
func (s *Service) displayName(ctx context.Context, userID, hint string) string {
	user, err := s.store.GetUser(ctx, userID)
	if err == nil && user.DisplayName != "" {
		return user.DisplayName
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("directory lookup failed", "user_id", userID, "error", err)
	}
	if hint != "" {
		return hint
	}
	return userID
}

// notifyOtherParty pushes a notification to the member who did not send msg.
// Runs in the background; failures are logged only.
func (s *Service) notifyOtherParty(conv *store.Conversation, msg *store.Message) {
	if s.notifier == nil {
		return
	}

	var recipient string
	switch msg.SenderRole {
	case store.RoleAdmin:
		recipient = conv.CustomerID
	case store.RoleCustomer:
		if conv.HasAdmin() {
			recipient = *conv.AdminID
		}
	}
	if recipient == "" || recipient == msg.SenderID {
		return
	}

	s.mu.RLock()
	presence := s.presence
	s.mu.RUnlock()
	if presence != nil && presence.IsWatching(conv.ID, recipient) {
		s.logger.Debug("recipient watching live, skipping notification",
			"conversation_id", conv.ID,
			"recipient", recipient)
		return
	}

	title := "New message from " + msg.SenderName
	body := notificationBody(msg)
	deepLink := s.deepLinkPrefix + conv.ID

	s.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, recipient, title, body, deepLink); err != nil {
			s.logger.Warn("notification failed",
				"conversation_id", conv.ID,
				"recipient", recipient,
				"error", err)
		}
	})
}

func notificationBody(msg *store.Message) string {
	switch msg.Type {
	case store.MessageTypeImage:
		if msg.Body != "" {
			return "[image] " + msg.Body
		}
		return "[image]"
	case store.MessageTypeFile:
		if msg.Body != "" {
			return "[file] " + msg.Body
		}
		return "[file]"
	default:
		return msg.Body
	}
}

// broadcast hands msg to the live hub. A panicking hub is logged and
// swallowed so the send still succeeds.
func (s *Service) broadcast(msg *store.Message, excludeConnID string) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("broadcast panicked",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID,
				"panic", r)
		}
	}()
	b.Broadcast(msg, excludeConnID)
}

// GetConversation returns a conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, storeError("get", "conversation", err)
	}
	return conv, nil
}

// ListByCustomer returns a customer's conversations, most recent first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversationsByCustomer(ctx, customerID)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return convs, nil
}

// ListByAdmin returns an admin's conversations, most recent first.
func (s *Service) ListByAdmin(ctx context.Context, adminID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversationsByAdmin(ctx, adminID)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return convs, nil
}

// ListByProduct returns conversations about a product, most recent first.
func (s *Service) ListByProduct(ctx context.Context, productID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversationsByProduct(ctx, productID)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return convs, nil
}

// ListAll returns every conversation, most recent first.
func (s *Service) ListAll(ctx context.Context) ([]*store.Conversation, error) {
	convs, err := s.store.ListAllConversations(ctx)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return convs, nil
}

// ListUnassigned returns the unclaimed queue, oldest first.
func (s *Service) ListUnassigned(ctx context.Context) ([]*store.Conversation, error) {
	convs, err := s.store.ListUnassignedConversations(ctx)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return convs, nil
}

// Page is one page of a listing.
type Page struct {
	Items []*store.Conversation
	Total int
	Page  int // zero-based
	Size  int
}

// ListByAdminPage returns one zero-based page of an admin's conversations.
func (s *Service) ListByAdminPage(ctx context.Context, adminID string, page, size int) (*Page, error) {
	if adminID == "" {
		return nil, newError(ErrInvalidArgument, "list", "admin id is required")
	}
	if page < 0 {
		return nil, newError(ErrInvalidArgument, "list", "page must not be negative")
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	items, total, err := s.store.ListConversationsByAdminPage(ctx, adminID, page*size, size)
	if err != nil {
		return nil, storeError("list", "conversations", err)
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}
