// ABOUTME: Push notification backends and combinators for offline chat participants
// ABOUTME: Log sink, fan-out across backends with metrics, and per-thread throttling

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/shopchat/internal/dedupe"
	"github.com/2389/shopchat/internal/metrics"
)

// Notifier delivers one notification to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID, title, body, deepLink string) error
}

// Backend is a Notifier with a stable name used in logs and metrics.
type Backend interface {
	Notifier
	Name() string
}

// Payload is the wire form shared by the NATS and webhook backends.
type Payload struct {
	RecipientID string    `json:"recipientId"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	BodyHTML    string    `json:"bodyHtml,omitempty"`
	DeepLink    string    `json:"deepLink"`
	SentAt      time.Time `json:"sentAt"`
}

// LogNotifier writes notifications to the log. It is the fallback when no
// real backend is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. Pass nil logger for default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify.log")}
}

// Name implements Backend.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	n.logger.InfoContext(ctx, "notification",
		"recipient", recipientID,
		"title", title,
		"body", body,
		"deep_link", deepLink)
	return nil
}

// Multi fans a notification out to every backend. All backends are tried;
// failures are joined into one error.
type Multi struct {
	backends []Backend
	logger   *slog.Logger
}

// NewMulti combines backends. Pass nil logger for default.
func NewMulti(logger *slog.Logger, backends ...Backend) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{backends: backends, logger: logger.With("component", "notify")}
}

// Backends returns the configured backend names.
func (m *Multi) Backends() []string {
	names := make([]string, 0, len(m.backends))
	for _, b := range m.backends {
		names = append(names, b.Name())
	}
	return names
}

// Notify implements Notifier.
func (m *Multi) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	var errs []error
	for _, b := range m.backends {
		err := b.Notify(ctx, recipientID, title, body, deepLink)
		metrics.RecordNotification(b.Name(), err)
		if err != nil {
			m.logger.Warn("notification backend failed",
				"backend", b.Name(),
				"recipient", recipientID,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, b := range m.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Throttled forwards at most one notification per recipient and deep link
// within the window. Suppressed notifications are not errors.
type Throttled struct {
	next   Notifier
	window *dedupe.Window
}

// NewThrottled wraps next. A non-positive window disables throttling.
func NewThrottled(next Notifier, window time.Duration) Notifier {
	if window <= 0 {
		return next
	}
	return &Throttled{next: next, window: dedupe.New(window, 100_000)}
}

// Notify implements Notifier.
func (t *Throttled) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	key := recipientID + "|" + deepLink
	if !t.window.Allow(key) {
		metrics.Notifications.WithLabelValues("throttle", "suppressed").Inc()
		return nil
	}
	if err := t.next.Notify(ctx, recipientID, title, body, deepLink); err != nil {
		// Failed deliveries don't consume the window.
		t.window.Forget(key)
		return err
	}
	return nil
}

// Close stops the throttle window and closes the wrapped notifier if it can be.
func (t *Throttled) Close() error {
	t.window.Close()
	if c, ok := t.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
