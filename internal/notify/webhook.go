// ABOUTME: Webhook notification backend posting signed JSON to an HTTP endpoint
// ABOUTME: Renders the markdown body to HTML and signs payloads with keyed BLAKE2b

package notify

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/yuin/goldmark"
	"golang.org/x/crypto/blake2b"
)

// SignatureHeader carries the hex BLAKE2b-256 MAC of the request body.
const SignatureHeader = "X-Shopchat-Signature"

// WebhookOptions configures a WebhookNotifier.
type WebhookOptions struct {
	URL     string
	Secret  string // signs the body when set; at most 64 bytes
	Timeout time.Duration
}

// WebhookNotifier delivers notifications as HTTP POSTs.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	secret []byte
	logger *slog.Logger
}

// NewWebhook creates a webhook backend.
func NewWebhook(opts WebhookOptions, logger *slog.Logger) (*WebhookNotifier, error) {
	if opts.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if len(opts.Secret) > blake2b.Size {
		return nil, fmt.Errorf("webhook secret must be at most %d bytes", blake2b.Size)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &WebhookNotifier{
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "shopchat-notify").
			SetTimeout(timeout),
		url:    opts.URL,
		secret: []byte(opts.Secret),
		logger: logger.With("component", "notify.webhook"),
	}, nil
}

// Name implements Backend.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, recipientID, title, body, deepLink string) error {
	payload := Payload{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		BodyHTML:    renderHTML(body),
		DeepLink:    deepLink,
		SentAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req := w.client.R().
		SetContext(ctx).
		SetBody(data)
	if len(w.secret) > 0 {
		sig, err := Sign(w.secret, data)
		if err != nil {
			return err
		}
		req.SetHeader(SignatureHeader, sig)
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}

// Sign returns the hex keyed BLAKE2b-256 of data.
func Sign(secret, data []byte) (string, error) {
	h, err := blake2b.New256(secret)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// renderHTML converts a markdown message body to HTML. Bodies that fail to
// render are sent as plain text only.
func renderHTML(body string) string {
	if body == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return ""
	}
	return buf.String()
}
