package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"rapidshare/storage"
)

func newTestStore(t *testing.T) (*storage.Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, _, err := storage.Open(t.TempDir(), storage.WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

var (
	alice = Party{ID: "dev-a", Name: "Alice"}
	bob   = Party{ID: "dev-b", Name: "Bob"}
	carol = Party{ID: "dev-c", Name: "Carol"}
)

func textPtr(s string) *string { return &s }

func tickUntilIdle(t *testing.T, sim *Simulator, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		written, err := sim.Tick(context.Background())
		require.NoError(t, err)
		if written == 0 {
			return i - 1
		}
	}
	t.Fatalf("simulator still writing after %d ticks", limit)
	return limit
}
