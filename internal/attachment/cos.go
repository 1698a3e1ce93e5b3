// ABOUTME: Tencent COS attachment host for multi-node deployments
// ABOUTME: Uploads with signed requests and returns the permanent object URL

package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSOptions configures a COSHost.
type COSOptions struct {
	BucketURL string
	SecretID  string
	SecretKey string
	Prefix    string // optional key prefix inside the bucket
}

// COSHost stores attachments in a COS bucket.
type COSHost struct {
	client *cos.Client
	prefix string
}

// NewCOSHost creates a COS-backed host.
func NewCOSHost(opts COSOptions) (*COSHost, error) {
	if opts.BucketURL == "" {
		return nil, errors.New("cos bucket url is required")
	}
	u, err := url.Parse(opts.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("parsing bucket url: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  opts.SecretID,
			SecretKey: opts.SecretKey,
		},
	})
	return &COSHost{client: client, prefix: opts.Prefix}, nil
}

// Name implements Host.
func (h *COSHost) Name() string { return "cos" }

// Put implements Host.
func (h *COSHost) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	objectKey := key
	if h.prefix != "" {
		objectKey = path.Join(h.prefix, key)
	}

	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: int64(len(data)),
		},
	}
	if _, err := h.client.Object.Put(ctx, objectKey, bytes.NewReader(data), opt); err != nil {
		return "", fmt.Errorf("cos put %s: %w", objectKey, err)
	}
	return h.client.Object.GetObjectURL(objectKey).String(), nil
}
