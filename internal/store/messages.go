// ABOUTME: SQLite message log operations for conversations
// ABOUTME: Append, ordered listing, read tracking and unread counting with a shared not-sender predicate

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const messageColumns = `id, conversation_id, sender_id, sender_name, sender_role, body, type,
	attachment_url, product_context_id, product_context_name, product_context_image_url,
	product_context_price, is_read, read_at, created_at`

// unreadForReader selects messages the reader has not yet seen. The bulk
// mark-read and the unread count both use it so they always agree.
const unreadForReader = `conversation_id = ? AND sender_id != ? AND is_read = 0`

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg                            Message
		senderRole, msgType            string
		attachmentURL                  sql.NullString
		pcID, pcName, pcImage, pcPrice sql.NullString
		isRead                         int
		readAt                         sql.NullString
		createdAtStr                   string
	)

	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &senderRole,
		&msg.Body, &msgType, &attachmentURL, &pcID, &pcName, &pcImage, &pcPrice,
		&isRead, &readAt, &createdAtStr); err != nil {
		return nil, err
	}

	msg.SenderRole = SenderRole(senderRole)
	msg.Type = MessageType(msgType)
	msg.AttachmentURL = attachmentURL.String
	msg.IsRead = isRead != 0

	if pcID.Valid {
		pc := &ProductContext{
			ProductID: pcID.String,
			Name:      pcName.String,
			ImageURL:  pcImage.String,
		}
		if pcPrice.Valid && pcPrice.String != "" {
			price, err := decimal.NewFromString(pcPrice.String)
			if err != nil {
				return nil, fmt.Errorf("parsing product price: %w", err)
			}
			pc.Price = price
		}
		msg.ProductContext = pc
	}

	var err error
	if msg.ReadAt, err = parseNullTime(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

// SaveMessage appends a message and bumps the conversation's updated_at in
// the same transaction. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	var pcID, pcName, pcImage, pcPrice sql.NullString
	if pc := msg.ProductContext; pc != nil {
		pcID = sql.NullString{String: pc.ProductID, Valid: true}
		pcName = sql.NullString{String: pc.Name, Valid: true}
		pcImage = sql.NullString{String: pc.ImageURL, Valid: pc.ImageURL != ""}
		pcPrice = sql.NullString{String: pc.Price.String(), Valid: true}
	}

	isRead := 0
	if msg.IsRead {
		isRead = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		string(msg.SenderRole),
		msg.Body,
		string(msg.Type),
		sql.NullString{String: msg.AttachmentURL, Valid: msg.AttachmentURL != ""},
		pcID, pcName, pcImage, pcPrice,
		isRead,
		formatNullTime(msg.ReadAt),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// ListMessages returns a conversation's messages in the order they were persisted.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
}

// MarkMessageRead marks one message as read. Marking an already-read message
// succeeds without changing read_at.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id string, readAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
		formatTime(readAt), id)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking message: %w", err)
	}
	return nil
}

// MarkConversationRead marks every unread message not sent by readerID.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE `+unreadForReader,
		formatTime(readAt), conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}

// ListUnreadMessages returns the reader's unread messages in order.
func (s *SQLiteStore) ListUnreadMessages(ctx context.Context, conversationID, readerID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+unreadForReader+`
		ORDER BY created_at ASC, rowid ASC
	`, conversationID, readerID)
}

// CountUnread counts messages not sent by readerID that are still unread.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+unreadForReader,
		conversationID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// LatestMessage returns the newest message in a conversation.
func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, conversationID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return msg, nil
}
