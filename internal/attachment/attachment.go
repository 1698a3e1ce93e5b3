// ABOUTME: Attachment uploads for IMAGE and FILE messages
// ABOUTME: Size and type checks, content-addressed keys and pluggable storage hosts

package attachment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/2389/shopchat/internal/metrics"
	"github.com/2389/shopchat/internal/store"
)

var (
	// ErrEmpty is returned for a zero-byte upload.
	ErrEmpty = errors.New("attachment is empty")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrUnsupportedType is returned for content types outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported attachment type")
)

// allowed maps detected content types to the message type they produce.
var allowed = map[string]store.MessageType{
	"image/png":       store.MessageTypeImage,
	"image/jpeg":      store.MessageTypeImage,
	"image/gif":       store.MessageTypeImage,
	"image/webp":      store.MessageTypeImage,
	"application/pdf": store.MessageTypeFile,
	"application/zip": store.MessageTypeFile,
	"text/plain":      store.MessageTypeFile,
}

// Host stores attachment bytes under a key and returns a URL clients can fetch.
type Host interface {
	Name() string
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Attachment describes an uploaded object.
type Attachment struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
	Type        store.MessageType
}

// Uploader validates uploads and hands them to a Host.
type Uploader struct {
	host     Host
	maxBytes int64
	logger   *slog.Logger
}

// NewUploader creates an Uploader. maxBytes <= 0 defaults to 10 MiB.
func NewUploader(host Host, maxBytes int64, logger *slog.Logger) *Uploader {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		host:     host,
		maxBytes: maxBytes,
		logger:   logger.With("component", "attachment", "host", host.Name()),
	}
}

// MaxBytes returns the upload size limit.
func (u *Uploader) MaxBytes() int64 { return u.maxBytes }

// Upload reads r, checks its size and sniffed type, and stores it under
// <conversationID>/<blake2b hash><ext>. Identical content in the same
// conversation maps to the same key.
func (u *Uploader) Upload(ctx context.Context, conversationID, filename string, r io.Reader) (*Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > u.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, u.maxBytes)
	}

	contentType := DetectType(data)
	msgType, ok := allowed[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := Key(conversationID, filename, contentType, data)
	url, err := u.host.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("storing attachment: %w", err)
	}
	metrics.AttachmentBytes.Observe(float64(len(data)))

	u.logger.Info("attachment stored",
		"conversation_id", conversationID,
		"key", key,
		"content_type", contentType,
		"size", len(data))

	return &Attachment{
		URL:         url,
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Type:        msgType,
	}, nil
}

// DetectType sniffs data and returns its media type without parameters.
func DetectType(data []byte) string {
	ct := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return ct
}

// Key builds the content-addressed object key.
func Key(conversationID, filename, contentType string, data []byte) string {
	sum := blake2b.Sum256(data)
	return path.Join(safeSegment(conversationID), hex.EncodeToString(sum[:16])+extension(filename, contentType))
}

func extension(filename, contentType string) string {
	if ext := strings.ToLower(path.Ext(filename)); len(ext) > 1 && len(ext) <= 6 && safeSegment(ext[1:]) == ext[1:] {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
