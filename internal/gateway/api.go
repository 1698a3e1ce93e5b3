// ABOUTME: REST handlers exposing the chat orchestrator under /api/v1
// ABOUTME: JSON request/response shapes, membership checks and error-kind to status mapping

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/2389/shopchat/internal/auth"
	"github.com/2389/shopchat/internal/conversation"
	"github.com/2389/shopchat/internal/store"
)

// errNotMember is returned when the caller may not see a conversation.
var errNotMember = &conversation.Error{
	Kind: conversation.ErrForbidden,
	Op:   "access",
	Msg:  "not a member of this conversation",
}

// ProductContextPayload is the JSON form of a product snapshot.
type ProductContextPayload struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// MessageResponse is the JSON form of a persisted message. Live frames use
// the same shape.
type MessageResponse struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	SenderID       string                 `json:"senderId"`
	SenderName     string                 `json:"senderName"`
	SenderRole     string                 `json:"senderRole"`
	Body           string                 `json:"body"`
	Type           string                 `json:"type"`
	AttachmentURL  string                 `json:"attachmentUrl,omitempty"`
	ProductContext *ProductContextPayload `json:"productContext,omitempty"`
	IsRead         bool                   `json:"isRead"`
	ReadAt         *time.Time             `json:"readAt,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// ConversationResponse is the JSON form of a conversation. Listing endpoints
// fill in the latest message and the caller's unread count.
type ConversationResponse struct {
	ID            string           `json:"id"`
	ProductID     *string          `json:"productId"`
	CustomerID    string           `json:"customerId"`
	AdminID       *string          `json:"adminId"`
	Subject       string           `json:"subject"`
	Status        string           `json:"status"`
	ClosedAt      *time.Time       `json:"closedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	LatestMessage *MessageResponse `json:"latestMessage,omitempty"`
	UnreadCount   *int             `json:"unreadCount,omitempty"`
}

// ConversationListResponse wraps a listing. Total, Page and Size are set for
// paginated listings only.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         *int                   `json:"total,omitempty"`
	Page          *int                   `json:"page,omitempty"`
	Size          *int                   `json:"size,omitempty"`
}

// StartChatRequest is the JSON body for POST /api/v1/conversations.
type StartChatRequest struct {
	ProductID string `json:"productId"`
	Subject   string `json:"subject"`
}

// AssignRequest is the optional JSON body for POST /conversations/{id}/assign.
type AssignRequest struct {
	AdminID string `json:"adminId"`
}

// SendMessageRequest is the JSON body for POST /conversations/{id}/messages.
type SendMessageRequest struct {
	Body           string                 `json:"body"`
	Type           string                 `json:"type,omitempty"`
	AttachmentURL  string                 `json:"attachmentUrl,omitempty"`
	ProductContext *ProductContextPayload `json:"productContext,omitempty"`
}

func toProductContext(p *ProductContextPayload) *store.ProductContext {
	if p == nil {
		return nil
	}
	return &store.ProductContext{
		ProductID: p.ProductID,
		Name:      p.Name,
		ImageURL:  p.ImageURL,
		Price:     p.Price,
	}
}

func toMessageResponse(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		SenderRole:     string(msg.SenderRole),
		Body:           msg.Body,
		Type:           string(msg.Type),
		AttachmentURL:  msg.AttachmentURL,
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
	}
	if pc := msg.ProductContext; pc != nil {
		resp.ProductContext = &ProductContextPayload{
			ProductID: pc.ProductID,
			Name:      pc.Name,
			ImageURL:  pc.ImageURL,
			Price:     pc.Price,
		}
	}
	return resp
}

func toMessageResponses(msgs []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toConversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:         conv.ID,
		ProductID:  conv.ProductID,
		CustomerID: conv.CustomerID,
		AdminID:    conv.AdminID,
		Subject:    conv.Subject,
		Status:     string(conv.Status),
		ClosedAt:   conv.ClosedAt,
		CreatedAt:  conv.CreatedAt,
		UpdatedAt:  conv.UpdatedAt,
	}
}

func toSummaryResponse(sum *conversation.Summary) ConversationResponse {
	resp := toConversationResponse(sum.Conversation)
	if sum.Latest != nil {
		latest := toMessageResponse(sum.Latest)
		resp.LatestMessage = &latest
	}
	unread := sum.Unread
	resp.UnreadCount = &unread
	return resp
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch conversation.KindOf(err) {
	case conversation.ErrNotFound:
		return http.StatusNotFound
	case conversation.ErrForbidden:
		return http.StatusForbidden
	case conversation.ErrInvalidArgument:
		return http.StatusBadRequest
	case conversation.ErrConflict:
		return http.StatusConflict
	case conversation.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the client-facing text for err. Causes of
// server-side failures stay in the log.
func errorMessage(err error) string {
	var ce *conversation.Error
	if errors.As(err, &ce) {
		if ce.Msg != "" {
			return ce.Msg
		}
		return ce.Kind.Error()
	}
	if statusFor(err) >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendError maps err to a status and writes it as a JSON error.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, errorMessage(err))
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v unchanged.
func decodeJSON(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.New("invalid JSON body")
}

// canView reports whether the caller may read a conversation: its members
// and anyone holding an admin role.
func canView(conv *store.Conversation, actor *auth.AuthContext) bool {
	return actor.IsAdmin() || conv.IsCustomer(actor.UserID) || conv.IsAdmin(actor.UserID)
}

// canSend reports whether the caller could post to a conversation: members,
// or a would-be claimer of an unassigned one. The orchestrator makes the
// final decision; this only guards work done before it is consulted.
func (g *Gateway) canSend(conv *store.Conversation, actor *auth.AuthContext) bool {
	if conv.IsCustomer(actor.UserID) || conv.IsAdmin(actor.UserID) {
		return true
	}
	if conv.HasAdmin() || conv.Status == store.StatusClosed || conv.CustomerID == "" {
		return false
	}
	return !g.config.Chat.RestrictClaims || actor.IsAdmin()
}

// visibleConversation loads the {id} conversation and checks the caller may see it.
func (g *Gateway) visibleConversation(ctx context.Context, r *http.Request) (*store.Conversation, *auth.AuthContext, error) {
	actor := auth.MustFromContext(ctx)
	conv, err := g.chat.GetConversation(ctx, mux.Vars(r)["id"])
	if err != nil {
		return nil, actor, err
	}
	if !canView(conv, actor) {
		return nil, actor, errNotMember
	}
	return conv, actor, nil
}

func (g *Gateway) writeSummaries(w http.ResponseWriter, r *http.Request, convs []*store.Conversation, readerID string) {
	sums, err := g.chat.Summarize(r.Context(), convs, readerID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	resp := ConversationListResponse{Conversations: make([]ConversationResponse, 0, len(sums))}
	for _, s := range sums {
		resp.Conversations = append(resp.Conversations, toSummaryResponse(s))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleStartChat handles POST /api/v1/conversations. The caller is the customer.
func (g *Gateway) handleStartChat(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req StartChatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.chat.StartChat(r.Context(), req.ProductID, actor.UserID, req.Subject)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleGeneralChat handles POST /api/v1/conversations/general.
func (g *Gateway) handleGeneralChat(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	conv, err := g.chat.GetOrCreateGeneralChat(r.Context(), actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleListConversations handles GET /api/v1/conversations.
// Admins may filter by customerId, adminId or productId (first one set wins)
// and see everything without a filter. Everyone else sees their own
// conversations as customer.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.MustFromContext(ctx)
	q := r.URL.Query()

	var (
		convs []*store.Conversation
		err   error
	)
	switch {
	case !actor.IsAdmin():
		if id := q.Get("customerId"); id != "" && id != actor.UserID {
			g.sendJSONError(w, http.StatusForbidden, "cannot list another customer's conversations")
			return
		}
		if q.Get("adminId") != "" || q.Get("productId") != "" {
			g.sendJSONError(w, http.StatusForbidden, "admin role required for this filter")
			return
		}
		convs, err = g.chat.ListByCustomer(ctx, actor.UserID)
	case q.Get("customerId") != "":
		convs, err = g.chat.ListByCustomer(ctx, q.Get("customerId"))
	case q.Get("adminId") != "":
		convs, err = g.chat.ListByAdmin(ctx, q.Get("adminId"))
	case q.Get("productId") != "":
		convs, err = g.chat.ListByProduct(ctx, q.Get("productId"))
	default:
		convs, err = g.chat.ListAll(ctx)
	}
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeSummaries(w, r, convs, actor.UserID)
}

// handleListUnassigned handles GET /api/v1/conversations/unassigned.
func (g *Gateway) handleListUnassigned(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	convs, err := g.chat.ListUnassigned(r.Context())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeSummaries(w, r, convs, actor.UserID)
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// handleAdminConversations handles GET /api/v1/admin/conversations?page=&size=.
// Pages are zero-based.
func (g *Gateway) handleAdminConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.MustFromContext(ctx)

	page, err := queryInt(r, "page", 0)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := queryInt(r, "size", 20)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := g.chat.ListByAdminPage(ctx, actor.UserID, page, size)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	sums, err := g.chat.Summarize(ctx, p.Items, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := ConversationListResponse{
		Conversations: make([]ConversationResponse, 0, len(sums)),
		Total:         &p.Total,
		Page:          &p.Page,
		Size:          &p.Size,
	}
	for _, s := range sums {
		resp.Conversations = append(resp.Conversations, toSummaryResponse(s))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetConversation handles GET /api/v1/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, actor, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	sums, err := g.chat.Summarize(r.Context(), []*store.Conversation{conv}, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toSummaryResponse(sums[0]))
}

// handleDeleteConversation handles DELETE /api/v1/conversations/{id}.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := g.chat.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssign handles POST /api/v1/conversations/{id}/assign. Without an
// adminId the caller assigns themselves.
func (g *Gateway) handleAssign(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req AssignRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AdminID == "" {
		req.AdminID = actor.UserID
	}

	conv, err := g.chat.Assign(r.Context(), mux.Vars(r)["id"], req.AdminID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleClose handles POST /api/v1/conversations/{id}/close.
func (g *Gateway) handleClose(w http.ResponseWriter, r *http.Request) {
	g.transition(w, r, g.chat.Close)
}

// handleReopen handles POST /api/v1/conversations/{id}/reopen.
func (g *Gateway) handleReopen(w http.ResponseWriter, r *http.Request) {
	g.transition(w, r, g.chat.Reopen)
}

func (g *Gateway) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) (*store.Conversation, error)) {
	conv, _, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	conv, err = apply(r.Context(), conv.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleListMessages handles GET /api/v1/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, _, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	msgs, err := g.chat.ListMessages(r.Context(), conv.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"messages":       toMessageResponses(msgs),
	})
}

// handleSendMessage handles POST /api/v1/conversations/{id}/messages.
// Membership and implicit claims are decided by the orchestrator.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.chat.SendMessage(r.Context(), &conversation.SendRequest{
		ConversationID: mux.Vars(r)["id"],
		SenderID:       actor.UserID,
		SenderName:     actor.DisplayName,
		Body:           req.Body,
		Type:           store.MessageType(req.Type),
		AttachmentURL:  req.AttachmentURL,
		ProductContext: toProductContext(req.ProductContext),
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleMarkAllRead handles POST /api/v1/conversations/{id}/read.
func (g *Gateway) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	conv, actor, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	n, err := g.chat.MarkAllRead(r.Context(), conv.ID, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"marked":         n,
	})
}

// handleUnread handles GET /api/v1/conversations/{id}/unread.
func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, actor, err := g.visibleConversation(ctx, r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	count, err := g.chat.UnreadCount(ctx, conv.ID, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	msgs, err := g.chat.UnreadMessages(ctx, conv.ID, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"unreadCount":    count,
		"messages":       toMessageResponses(msgs),
	})
}

// handleLatest handles GET /api/v1/conversations/{id}/latest. An empty
// conversation yields a null message.
func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	conv, _, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	msg, err := g.chat.LatestMessage(r.Context(), conv.ID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	var latest *MessageResponse
	if msg != nil {
		m := toMessageResponse(msg)
		latest = &m
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"message":        latest,
	})
}

// handleLiveCount handles GET /api/v1/conversations/{id}/live.
func (g *Gateway) handleLiveCount(w http.ResponseWriter, r *http.Request) {
	conv, _, err := g.visibleConversation(r.Context(), r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"connections":    g.hub.ConnectionCount(conv.ID),
		"live":           g.hub.HasLiveConnections(conv.ID),
	})
}

// handleMarkRead handles POST /api/v1/messages/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.MustFromContext(ctx)
	id := mux.Vars(r)["id"]

	// Check membership before touching the message.
	existing, err := g.store.GetMessage(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return
	case err != nil:
		g.sendError(w, r, fmt.Errorf("%w: %w", conversation.ErrUnavailable, err))
		return
	}
	conv, err := g.chat.GetConversation(ctx, existing.ConversationID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if !canView(conv, actor) {
		g.sendError(w, r, errNotMember)
		return
	}

	msg, err := g.chat.MarkRead(ctx, id, actor.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toMessageResponse(msg))
}
