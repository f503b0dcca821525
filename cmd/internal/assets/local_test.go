package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempUpload(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestLocalStore_Upload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := NewLocalStore(dir, "/static/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	src := writeTempUpload(t, "avatar.png", "png-bytes")

	url, err := st.Upload(context.Background(), src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "/static/media/") {
		t.Fatalf("unexpected url %q", url)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Fatalf("extension must survive, got %q", url)
	}

	// The temp file is consumed.
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("temp file must be removed, stat err=%v", err)
	}

	// The object exists under the store directory.
	rel := strings.TrimPrefix(url, "/static/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("stored content mismatch: %q", data)
	}
}

func TestLocalStore_Upload_MissingSource(t *testing.T) {
	t.Parallel()

	st, err := NewLocalStore(t.TempDir(), "/static")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := st.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestLocalStore_Upload_RemovesSourceOnFailure(t *testing.T) {
	t.Parallel()

	st, err := NewLocalStore(t.TempDir(), "/static")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	src := writeTempUpload(t, "cover.jpg", "jpg-bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Upload(ctx, src); err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("temp file must be removed even on failure, stat err=%v", err)
	}
}

func TestObjectKey_Uniqueness(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := objectKey("media", now, "x.png")
	b := objectKey("media", now, "x.png")
	if a == b {
		t.Fatalf("keys must be unique: %q", a)
	}
}
