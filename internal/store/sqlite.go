// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Conversation persistence with automatic schema creation on modernc.org/sqlite or mattn/go-sqlite3

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver.
	DriverMattn = "sqlite3"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure-Go driver. The schema is created if it doesn't exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverModernc, path)
}

// Open creates a SQLite store with the named driver ("sqlite" or "sqlite3").
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection of an in-memory database is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// buildDSN puts the pragmas in the connection string so every pooled
// connection gets them, not just the first one.
func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverMattn:
		return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			product_id TEXT,
			customer_id TEXT NOT NULL,
			admin_id TEXT,
			subject TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			closed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('PENDING', 'OPEN', 'CLOSED'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active_product
			ON conversations(product_id, customer_id)
			WHERE product_id IS NOT NULL AND status != 'CLOSED';

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_general
			ON conversations(customer_id)
			WHERE product_id IS NULL;

		CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_admin ON conversations(admin_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_product ON conversations(product_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'TEXT',
			attachment_url TEXT,
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,

			CHECK (sender_role IN ('CUSTOMER', 'ADMIN')),
			CHECK (type IN ('TEXT', 'IMAGE', 'FILE', 'SYSTEM'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, is_read, sender_id);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema changes to existing databases.
// Each migration is idempotent.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		column string
		ddl    string
	}{
		{"product_context_id", "ALTER TABLE messages ADD COLUMN product_context_id TEXT"},
		{"product_context_name", "ALTER TABLE messages ADD COLUMN product_context_name TEXT"},
		{"product_context_image_url", "ALTER TABLE messages ADD COLUMN product_context_image_url TEXT"},
		{"product_context_price", "ALTER TABLE messages ADD COLUMN product_context_price TEXT"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists("messages", m.column)
		if err != nil {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}
	return nil
}

func (s *SQLiteStore) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// DB exposes the underlying handle for tests and maintenance tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

const conversationColumns = `id, product_id, customer_id, admin_id, subject, status, closed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                   Conversation
		productID, adminID     sql.NullString
		closedAt               sql.NullString
		status                 string
		createdAtStr, updateAt string
	)

	if err := row.Scan(&conv.ID, &productID, &conv.CustomerID, &adminID, &conv.Subject,
		&status, &closedAt, &createdAtStr, &updateAt); err != nil {
		return nil, err
	}

	conv.ProductID = stringPtr(productID)
	conv.AdminID = stringPtr(adminID)
	conv.Status = ConversationStatus(status)

	var err error
	if conv.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, fmt.Errorf("parsing closed_at: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicateConversation when the partial unique indexes reject it.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		nullString(conv.ProductID),
		conv.CustomerID,
		nullString(conv.AdminID),
		conv.Subject,
		string(conv.Status),
		formatNullTime(conv.ClosedAt),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "customer_id", conv.CustomerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversation updates the mutable fields of a conversation.
// Returns ErrNotFound if it doesn't exist and ErrDuplicateConversation if a
// reopen would collide with another active conversation for the same pair.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		UPDATE conversations
		SET admin_id = ?, subject = ?, status = ?, closed_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		nullString(conv.AdminID),
		conv.Subject,
		string(conv.Status),
		formatNullTime(conv.ClosedAt),
		formatTime(conv.UpdatedAt),
		conv.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation", "id", conv.ID, "status", conv.Status)
	return nil
}

// DeleteConversation removes a conversation and its messages in one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// FindActiveConversation returns the PENDING or OPEN conversation for a
// product and customer, or ErrNotFound.
func (s *SQLiteStore) FindActiveConversation(ctx context.Context, productID, customerID string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE product_id = ? AND customer_id = ? AND status != 'CLOSED'
		LIMIT 1
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, productID, customerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active conversation: %w", err)
	}
	return conv, nil
}

// FindGeneralConversation returns the customer's product-less conversation, or ErrNotFound.
func (s *SQLiteStore) FindGeneralConversation(ctx context.Context, customerID string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE product_id IS NULL AND customer_id = ?
		LIMIT 1
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, customerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying general conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) listConversations(ctx context.Context, where, orderBy string, args ...any) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY ` + orderBy

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

const recentFirst = `updated_at DESC, rowid DESC`

// ListConversationsByCustomer returns a customer's conversations, most recent first.
func (s *SQLiteStore) ListConversationsByCustomer(ctx context.Context, customerID string) ([]*Conversation, error) {
	return s.listConversations(ctx, `customer_id = ?`, recentFirst, customerID)
}

// ListConversationsByAdmin returns an admin's conversations, most recent first.
func (s *SQLiteStore) ListConversationsByAdmin(ctx context.Context, adminID string) ([]*Conversation, error) {
	return s.listConversations(ctx, `admin_id = ?`, recentFirst, adminID)
}

// ListConversationsByProduct returns conversations about a product, most recent first.
func (s *SQLiteStore) ListConversationsByProduct(ctx context.Context, productID string) ([]*Conversation, error) {
	return s.listConversations(ctx, `product_id = ?`, recentFirst, productID)
}

// ListAllConversations returns every conversation, most recent first.
func (s *SQLiteStore) ListAllConversations(ctx context.Context) ([]*Conversation, error) {
	return s.listConversations(ctx, "", recentFirst)
}

// ListUnassignedConversations returns PENDING conversations nobody has claimed, oldest first.
func (s *SQLiteStore) ListUnassignedConversations(ctx context.Context) ([]*Conversation, error) {
	return s.listConversations(ctx, `status = 'PENDING' AND admin_id IS NULL`, `created_at ASC, rowid ASC`)
}

// ListConversationsByAdminPage returns a page of an admin's conversations plus the total count.
func (s *SQLiteStore) ListConversationsByAdminPage(ctx context.Context, adminID string, offset, limit int) ([]*Conversation, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE admin_id = ?`, adminID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting conversations: %w", err)
	}

	convs, err := s.listConversations(ctx, `admin_id = ?`, recentFirst+` LIMIT ? OFFSET ?`, adminID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}
