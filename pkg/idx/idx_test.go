package idx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAt(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	require.Len(t, id.String(), 26)
	require.WithinDuration(t, tm, idx.Time(id.String()), time.Millisecond)
	require.True(t, idx.Time("not-a-ulid").IsZero())
}

func TestRecordKey(t *testing.T) {
	a := idx.RecordKey()
	b := idx.RecordKey()

	require.Equal(t, strings.ToLower(a), a)
	// Monotonic source: later keys sort after earlier ones.
	require.Less(t, a, b)
	require.False(t, idx.Time(a).IsZero())
}
