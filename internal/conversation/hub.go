// ABOUTME: Live broadcast hub: in-memory registry of connections per conversation
// ABOUTME: Lazy registration on first frame, snapshot-then-send fan-out, cleanup of empty rooms

package conversation

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/2389/shopchat/internal/metrics"
	"github.com/2389/shopchat/internal/store"
)

// hubShards spreads rooms over independent locks so unrelated conversations
// don't contend.
const hubShards = 32

// Connection is one live transport connection. Send must not block; a
// connection that cannot accept a message returns an error instead.
type Connection interface {
	ID() string
	Send(msg *store.Message) error
	IsOpen() bool
}

// MessageSender persists a message on behalf of the hub.
type MessageSender interface {
	SendMessage(ctx context.Context, req *SendRequest) (*store.Message, error)
}

// InboundFrame is what a live client sends: a message for a conversation.
// An empty Body with no attachment only joins the conversation.
type InboundFrame struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	Type           store.MessageType
	AttachmentURL  string
	ProductContext *store.ProductContext
}

type member struct {
	conn           Connection
	conversationID string
	userID         string
}

type hubShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*member // conversationID -> connID -> member
}

// Hub tracks which live connections are watching which conversation and
// fans newly persisted messages out to them.
type Hub struct {
	shards [hubShards]*hubShard

	connMu sync.Mutex
	conns  map[string]*member // connID -> member

	sender MessageSender
	logger *slog.Logger
}

// NewHub creates a hub that persists inbound frames through sender.
// Pass nil logger for default.
func NewHub(sender MessageSender, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:  make(map[string]*member),
		sender: sender,
		logger: logger.With("component", "hub"),
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{rooms: make(map[string]map[string]*member)}
	}
	return h
}

func (h *Hub) shard(conversationID string) *hubShard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(conversationID))
	return h.shards[f.Sum32()%hubShards]
}

// OnConnect is called when a transport connection opens. Registration is
// deferred until the first frame names a conversation.
func (h *Hub) OnConnect(conn Connection) {
	h.logger.Debug("connection opened", "conn_id", conn.ID())
}

// Join registers conn under conversationID as userID. Joining the same
// conversation again is a no-op; joining another one moves the connection.
func (h *Hub) Join(conn Connection, conversationID, userID string) {
	connID := conn.ID()

	// connMu orders registration against disconnect for the same connection;
	// lock order is connMu then shard.
	h.connMu.Lock()
	defer h.connMu.Unlock()

	prev, ok := h.conns[connID]
	if ok && prev.conversationID == conversationID {
		if userID != "" && prev.userID != userID {
			sh := h.shard(conversationID)
			sh.mu.Lock()
			prev.userID = userID
			sh.mu.Unlock()
		}
		return
	}
	if ok {
		h.removeFromRoom(prev)
	} else {
		metrics.LiveConnections.Inc()
	}

	m := &member{conn: conn, conversationID: conversationID, userID: userID}
	h.conns[connID] = m

	sh := h.shard(conversationID)
	sh.mu.Lock()
	room, exists := sh.rooms[conversationID]
	if !exists {
		room = make(map[string]*member)
		sh.rooms[conversationID] = room
		metrics.LiveConversations.Inc()
	}
	room[connID] = m
	sh.mu.Unlock()

	h.logger.Debug("connection joined",
		"conn_id", connID,
		"conversation_id", conversationID,
		"user_id", userID)
}

// OnMessage handles one inbound frame: it registers the connection under the
// frame's conversation and, if the frame carries content, persists it through
// the sender. The sender broadcasts the stored message to every other live
// connection. The returned error is meant for the originating client only.
func (h *Hub) OnMessage(ctx context.Context, conn Connection, frame *InboundFrame) (*store.Message, error) {
	if frame.ConversationID == "" {
		return nil, newError(ErrInvalidArgument, "live", "conversation id is required")
	}

	h.Join(conn, frame.ConversationID, frame.SenderID)

	if frame.Body == "" && frame.AttachmentURL == "" {
		return nil, nil
	}

	return h.sender.SendMessage(ctx, &SendRequest{
		ConversationID: frame.ConversationID,
		SenderID:       frame.SenderID,
		SenderName:     frame.SenderName,
		Body:           frame.Body,
		Type:           frame.Type,
		AttachmentURL:  frame.AttachmentURL,
		ProductContext: frame.ProductContext,
		OriginConnID:   conn.ID(),
	})
}

// OnDisconnect removes conn from its conversation. Unknown connections are ignored.
func (h *Hub) OnDisconnect(conn Connection) {
	connID := conn.ID()

	h.connMu.Lock()
	defer h.connMu.Unlock()

	m, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	metrics.LiveConnections.Dec()
	h.removeFromRoom(m)

	h.logger.Debug("connection left",
		"conn_id", connID,
		"conversation_id", m.conversationID)
}

// removeFromRoom deletes m from its room and drops the room once empty.
func (h *Hub) removeFromRoom(m *member) {
	sh := h.shard(m.conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	room, ok := sh.rooms[m.conversationID]
	if !ok {
		return
	}
	if cur, exists := room[m.conn.ID()]; !exists || cur != m {
		return
	}
	delete(room, m.conn.ID())
	if len(room) == 0 {
		delete(sh.rooms, m.conversationID)
		metrics.LiveConversations.Dec()
	}
}

// Broadcast delivers msg to every open connection registered under its
// conversation except excludeConnID. Slow or failing connections are logged
// and skipped.
func (h *Hub) Broadcast(msg *store.Message, excludeConnID string) {
	sh := h.shard(msg.ConversationID)

	sh.mu.RLock()
	room, ok := sh.rooms[msg.ConversationID]
	if !ok || len(room) == 0 {
		sh.mu.RUnlock()
		return
	}

	// Copy targets under read lock to avoid holding lock during sends
	targets := make([]Connection, 0, len(room))
	for id, m := range room {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		targets = append(targets, m.conn)
	}
	sh.mu.RUnlock()

	for _, conn := range targets {
		if !conn.IsOpen() {
			continue
		}
		if err := conn.Send(msg); err != nil {
			metrics.RecordDelivery("dropped")
			h.logger.Warn("live delivery failed",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID,
				"conn_id", conn.ID(),
				"error", err)
			continue
		}
		metrics.RecordDelivery("sent")
	}
}

// ConnectionCount returns how many connections are registered for a conversation.
func (h *Hub) ConnectionCount(conversationID string) int {
	sh := h.shard(conversationID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.rooms[conversationID])
}

// HasLiveConnections reports whether anyone is watching a conversation.
func (h *Hub) HasLiveConnections(conversationID string) bool {
	return h.ConnectionCount(conversationID) > 0
}

// IsWatching reports whether userID has an open connection on the conversation.
func (h *Hub) IsWatching(conversationID, userID string) bool {
	if userID == "" {
		return false
	}
	sh := h.shard(conversationID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	for _, m := range sh.rooms[conversationID] {
		if m.userID == userID && m.conn.IsOpen() {
			return true
		}
	}
	return false
}

// TotalConnections returns the number of registered connections across all conversations.
func (h *Hub) TotalConnections() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return len(h.conns)
}

// Close drops every registration. Connections themselves are owned by the
// transport and are not closed here.
func (h *Hub) Close() {
	h.connMu.Lock()
	n := len(h.conns)
	h.conns = make(map[string]*member)
	h.connMu.Unlock()
	metrics.LiveConnections.Sub(float64(n))

	for _, sh := range h.shards {
		sh.mu.Lock()
		metrics.LiveConversations.Sub(float64(len(sh.rooms)))
		sh.rooms = make(map[string]map[string]*member)
		sh.mu.Unlock()
	}

	h.logger.Debug("hub closed")
}
