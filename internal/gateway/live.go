// ABOUTME: Websocket live transport adapting gorilla/websocket connections to the broadcast hub
// ABOUTME: One read loop per connection, a buffered write pump with pings, and error frames for failed sends

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/shopchat/internal/auth"
	"github.com/2389/shopchat/internal/config"
	"github.com/2389/shopchat/internal/conversation"
	"github.com/2389/shopchat/internal/store"
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

// LiveFrame is what a client sends over the websocket. A frame without a
// body or attachment only subscribes the connection to the conversation.
// SenderID is optional and must match the authenticated caller when set.
type LiveFrame struct {
	ConversationID string                 `json:"conversationId"`
	SenderID       string                 `json:"senderId,omitempty"`
	Body           string                 `json:"body,omitempty"`
	Type           string                 `json:"type,omitempty"`
	AttachmentURL  string                 `json:"attachmentUrl,omitempty"`
	ProductContext *ProductContextPayload `json:"productContext,omitempty"`
}

// ErrorFrame is sent to the originating client when a frame is rejected.
// The connection stays open.
type ErrorFrame struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	ConversationID string `json:"conversationId,omitempty"`
}

// liveConn is one websocket connection. It implements conversation.Connection.
type liveConn struct {
	id     string
	ws     *websocket.Conn
	actor  *auth.AuthContext
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	cfg    config.LiveConfig
	logger *slog.Logger
}

func newLiveConn(ws *websocket.Conn, actor *auth.AuthContext, cfg config.LiveConfig, logger *slog.Logger) *liveConn {
	id := uuid.New().String()
	return &liveConn{
		id:     id,
		ws:     ws,
		actor:  actor,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger.With("conn_id", id, "user_id", actor.UserID),
	}
}

func (c *liveConn) ID() string { return c.id }

func (c *liveConn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send queues msg for the write pump without blocking.
func (c *liveConn) Send(msg *store.Message) error {
	data, err := json.Marshal(toMessageResponse(msg))
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *liveConn) sendError(conversationID string, err error) {
	data, _ := json.Marshal(ErrorFrame{
		Error:          errorMessage(err),
		Code:           conversation.Code(err),
		ConversationID: conversationID,
	})
	if qerr := c.enqueue(data); qerr != nil {
		c.logger.Debug("dropping error frame", "error", qerr)
	}
}

func (c *liveConn) enqueue(data []byte) error {
	if !c.IsOpen() {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSlowConsumer
	}
}

// close stops both pumps. Safe to call more than once.
func (c *liveConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// goAway sends a close frame before closing.
func (c *liveConn) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
	c.close()
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *liveConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// liveRegistry tracks open websocket connections so shutdown can close them;
// http.Server does not track hijacked connections.
type liveRegistry struct {
	mu    sync.Mutex
	conns map[string]*liveConn
}

func newLiveRegistry() *liveRegistry {
	return &liveRegistry{conns: make(map[string]*liveConn)}
}

func (l *liveRegistry) add(c *liveConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c.id] = c
}

func (l *liveRegistry) remove(c *liveConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c.id)
}

func (l *liveRegistry) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *liveRegistry) closeAll() {
	l.mu.Lock()
	conns := make([]*liveConn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.goAway()
	}
}

// checkOrigin allows the configured origins. "*" allows any origin; with no
// list configured only same-host requests are accepted.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := g.config.Live.AllowedOrigins
	if len(allowed) == 0 {
		return sameHost(origin, r.Host)
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// handleLive handles GET /ws. The caller is authenticated before the upgrade;
// browsers pass the token as ?access_token=.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newLiveConn(ws, actor, g.config.Live, g.logger)
	g.live.add(c)
	g.hub.OnConnect(c)

	go c.writePump()
	g.readLoop(r.Context(), c)
}

// readLoop handles inbound frames until the connection drops. A dropped
// connection is an implicit disconnect.
func (g *Gateway) readLoop(ctx context.Context, c *liveConn) {
	defer func() {
		g.hub.OnDisconnect(c)
		g.live.remove(c)
		c.close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("connection dropped", "error", err)
			}
			return
		}
		g.handleFrame(ctx, c, data)
	}
}

// handleFrame processes one inbound frame. Failures are reported to this
// connection only.
func (g *Gateway) handleFrame(ctx context.Context, c *liveConn, data []byte) {
	var frame LiveFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("", fmt.Errorf("%w: invalid frame", conversation.ErrInvalidArgument))
		return
	}
	if frame.ConversationID == "" {
		c.sendError("", fmt.Errorf("%w: conversationId is required", conversation.ErrInvalidArgument))
		return
	}
	if frame.SenderID != "" && frame.SenderID != c.actor.UserID {
		c.sendError(frame.ConversationID, fmt.Errorf("%w: senderId does not match the authenticated user", conversation.ErrForbidden))
		return
	}

	conv, err := g.chat.GetConversation(ctx, frame.ConversationID)
	if err != nil {
		c.sendError(frame.ConversationID, err)
		return
	}
	hasContent := frame.Body != "" || frame.AttachmentURL != ""
	if !canView(conv, c.actor) && !(hasContent && g.canSend(conv, c.actor)) {
		c.sendError(frame.ConversationID, errNotMember)
		return
	}

	_, err = g.hub.OnMessage(ctx, c, &conversation.InboundFrame{
		ConversationID: frame.ConversationID,
		SenderID:       c.actor.UserID,
		SenderName:     c.actor.DisplayName,
		Body:           frame.Body,
		Type:           store.MessageType(frame.Type),
		AttachmentURL:  frame.AttachmentURL,
		ProductContext: toProductContext(frame.ProductContext),
	})
	if err != nil {
		c.logger.Debug("frame rejected", "conversation_id", frame.ConversationID, "error", err)
		if errors.Is(err, conversation.ErrForbidden) && !g.viewerAfterSend(ctx, frame.ConversationID, c.actor) {
			g.hub.OnDisconnect(c)
		}
		c.sendError(frame.ConversationID, err)
	}
}

// viewerAfterSend reports whether actor may still view the conversation once
// a send was refused, e.g. after losing an implicit claim to someone else.
func (g *Gateway) viewerAfterSend(ctx context.Context, conversationID string, actor *auth.AuthContext) bool {
	conv, err := g.chat.GetConversation(ctx, conversationID)
	if err != nil {
		return false
	}
	return canView(conv, actor)
}
