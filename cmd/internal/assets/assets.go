// Package assets stores uploaded media (avatars, cover images) and returns
// a public URL for each stored object.
//
// Implementations consume a local temp file produced by the upload handler.
// The temp file is removed whether or not the store succeeds; a failed
// upload must not leave request-scoped files on disk.
package assets

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrUpload reports a failed transfer to the backing store.
var ErrUpload = errors.New("assets: upload failed")

// Store persists a local file and returns its public URL.
//
// Upload takes ownership of localPath: the file is deleted regardless of
// outcome.
type Store interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

// objectKey builds a date-partitioned key with a random name, keeping the
// original extension so content type survives.
func objectKey(prefix string, now time.Time, origName string) string {
	d := now.UTC()
	return fmt.Sprintf("%s/%d/%d/%d/%s%s",
		prefix, d.Year(), int(d.Month()), d.Day(), uuid.New(), filepath.Ext(origName))
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
