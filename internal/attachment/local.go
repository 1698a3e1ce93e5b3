// ABOUTME: Filesystem attachment host for single-node deployments
// ABOUTME: Writes objects atomically under a directory and serves them over HTTP

package attachment

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalHost stores attachments on the local filesystem.
type LocalHost struct {
	dir     string
	baseURL string
}

// NewLocalHost creates dir if needed. baseURL is the public prefix the
// gateway serves the directory under, e.g. "/attachments".
func NewLocalHost(dir, baseURL string) (*LocalHost, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating attachment dir: %w", err)
	}
	return &LocalHost{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Name implements Host.
func (h *LocalHost) Name() string { return "local" }

// Put implements Host. Existing objects are left in place since keys are
// content addressed.
func (h *LocalHost) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	dst := filepath.Join(h.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(dst, filepath.Clean(h.dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}
	url := h.baseURL + "/" + key

	if _, err := os.Stat(dst); err == nil {
		return url, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("creating attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("storing attachment: %w", err)
	}
	return url, nil
}

// Handler serves stored attachments. Mount it under the base URL with the
// prefix stripped.
func (h *LocalHost) Handler() http.Handler {
	return http.FileServer(noDirs{http.Dir(h.dir)})
}

// noDirs hides directory listings.
type noDirs struct{ fs http.FileSystem }

func (n noDirs) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
