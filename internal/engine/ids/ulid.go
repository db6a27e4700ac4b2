package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewEventID returns a time-sortable identifier for a freshly admitted event.
// IDs created on the same process are strictly increasing, which keeps event
// logs and notification streams in admission order.
func NewEventID() string {
	return newULID()
}

// NewNotificationID returns an identifier for a lifecycle notification.
func NewNotificationID() string {
	return newULID()
}

// Valid reports whether s parses as a ULID produced by this package.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
