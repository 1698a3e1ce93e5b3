// ABOUTME: SQLite user directory used to resolve sender display names
// ABOUTME: Users are upserted as actors authenticate

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts a user or refreshes its display name and role.
// Empty fields on an existing user are left as they were.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			role = CASE WHEN excluded.role != '' THEN excluded.role ELSE users.role END,
			updated_at = excluded.updated_at
	`,
		user.ID,
		user.DisplayName,
		user.Role,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		user                     User
		createdAtStr, updatedStr string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.DisplayName, &user.Role, &createdAtStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &user, nil
}
