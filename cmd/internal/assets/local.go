package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps uploads on the local filesystem and serves them from a
// static file route. It backs development and test runs where no object
// store is configured.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore stores files under dir and returns URLs rooted at baseURL
// (e.g. "/static").
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("assets: local: missing directory")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("assets: local: missing base URL")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: local: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir reports the storage directory, for wiring the static file route.
func (l *LocalStore) Dir() string { return l.dir }

// Upload moves the file into the store directory under a fresh key and
// returns its URL. localPath is deleted in all cases.
func (l *LocalStore) Upload(ctx context.Context, localPath string) (string, error) {
	defer func() { _ = os.Remove(localPath) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := objectKey("media", time.Now(), localPath)

	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", ErrUpload, err)
	}

	if err := copyFile(localPath, dst); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return l.baseURL + "/" + path.Clean(key), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
