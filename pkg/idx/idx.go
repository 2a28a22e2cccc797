// Package idx hands out ULID identifiers: outbound request ids, session
// lineage ids and record keys.
package idx

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID in canonical upper-case form.
type ID string

func (id ID) String() string { return string(id) }

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns an ID for the current time. IDs from one process sort in
// creation order, even within the same millisecond.
func New() ID {
	return NewAt(time.Now())
}

// NewAt returns an ID stamped with t.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// RecordKey returns a lower-case ID for the rkey segment of an AT-URI.
func RecordKey() string {
	return strings.ToLower(New().String())
}

// Time returns the timestamp embedded in id, or the zero time when id is
// not a ULID.
func Time(id string) time.Time {
	u, err := ulid.ParseStrict(strings.ToUpper(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
