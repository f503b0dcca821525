package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var errNoFile = errors.New("api: no file in form")

// saveFormFile spools a single multipart file part to a temp file and
// returns its path. The caller (via the asset store) owns deletion.
func saveFormFile(r *http.Request, field string, maxBytes int64) (string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", errNoFile
		}
		return "", fmt.Errorf("api: read form file %q: %w", field, err)
	}
	defer f.Close()

	if maxBytes > 0 && hdr.Size > maxBytes {
		return "", fmt.Errorf("api: file %q exceeds %d bytes", field, maxBytes)
	}

	return spoolToTemp(f, hdr)
}

func spoolToTemp(f multipart.File, hdr *multipart.FileHeader) (string, error) {
	// Keep the original extension so the asset store can infer content type.
	name := uuid.NewString() + filepath.Ext(hdr.Filename)
	dst := filepath.Join(os.TempDir(), name)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("api: create temp file: %w", err)
	}

	if _, err := io.Copy(out, f); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("api: spool upload: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("api: close temp file: %w", err)
	}
	return dst, nil
}
