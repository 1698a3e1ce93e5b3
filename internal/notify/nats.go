// ABOUTME: NATS notification backend publishing one JSON payload per recipient subject
// ABOUTME: Optionally persists notifications through a JetStream stream

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSOptions configures a NATSNotifier.
type NATSOptions struct {
	URL           string
	SubjectPrefix string // default "shopchat.notify"
	Stream        string // JetStream stream name; empty publishes on core NATS
}

// NATSNotifier publishes notifications to <prefix>.<recipient>.
type NATSNotifier struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// NewNATS connects to NATS and, if a stream is named, makes sure it exists.
func NewNATS(ctx context.Context, opts NATSOptions, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSuffix(opts.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "shopchat.notify"
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("shopchat"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	n := &NATSNotifier{
		nc:     nc,
		prefix: prefix,
		logger: logger.With("component", "notify.nats"),
	}

	if opts.Stream != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating jetstream context: %w", err)
		}
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:        opts.Stream,
			Description: "Chat push notifications",
			Subjects:    []string{prefix + ".>"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ensuring stream %q: %w", opts.Stream, err)
		}
		n.js = js
	}

	n.logger.Info("connected to nats", "url", nc.ConnectedUrl(), "prefix", prefix, "stream", opts.Stream)
	return n, nil
}

// Name implements Backend.
func (n *NATSNotifier) Name() string { return "nats" }

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	data, err := json.Marshal(Payload{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		DeepLink:    deepLink,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	subject := Subject(n.prefix, recipientID)
	if n.js != nil {
		if _, err := n.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publishing to %s: %w", subject, err)
		}
		return nil
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.nc.Drain()
}

// Subject builds the per-recipient subject. Characters NATS treats as
// separators or wildcards are replaced so one id maps to one token.
func Subject(prefix, recipientID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, recipientID)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token
}
