// ABOUTME: Matrix notification backend posting to a single support room
// ABOUTME: Lets the support team follow replies from any Matrix client

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// MatrixOptions configures a MatrixNotifier.
type MatrixOptions struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// MatrixNotifier sends one text message per notification to a room.
type MatrixNotifier struct {
	client *mautrix.Client
	roomID id.RoomID
	logger *slog.Logger
}

// NewMatrix creates a Matrix backend.
func NewMatrix(opts MatrixOptions, logger *slog.Logger) (*MatrixNotifier, error) {
	if opts.RoomID == "" {
		return nil, errors.New("matrix room id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MatrixNotifier{
		client: client,
		roomID: id.RoomID(opts.RoomID),
		logger: logger.With("component", "notify.matrix"),
	}, nil
}

// Name implements Backend.
func (m *MatrixNotifier) Name() string { return "matrix" }

// Notify implements Notifier.
func (m *MatrixNotifier) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	text := fmt.Sprintf("%s (for %s)\n%s\n%s", title, recipientID, truncate(body, 500), deepLink)
	if _, err := m.client.SendText(ctx, m.roomID, text); err != nil {
		return fmt.Errorf("sending to %s: %w", m.roomID, err)
	}
	return nil
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
