package identity

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26-character ULID for the given creation time
// (zero means now). Account IDs sort by creation order, which keeps the
// primary-key index append-only under registration load.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("identity: new ulid: %w", err)
	}
	return id.String(), nil
}
