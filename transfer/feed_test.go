package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidshare/models"
)

func waitForViews(t *testing.T, f *Feed, match func([]View) bool) []View {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case views, ok := <-f.Updates():
			require.True(t, ok, "feed closed")
			if match(views) {
				return views
			}
		case <-deadline:
			t.Fatalf("timed out waiting for feed update, have %d views", len(f.Views()))
		}
	}
}

func TestFeedStreamsLedgerChanges(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedger(store, LedgerConfig{})
	ctx := context.Background()

	feed, err := ledger.Watch(ctx, "dev-a", FeedConfig{RefreshInterval: time.Hour, Clock: clock.NewMock()})
	require.NoError(t, err)
	defer feed.Close()

	waitForViews(t, feed, func(v []View) bool { return len(v) == 0 })

	_, err = ledger.Send(ctx, SendRequest{Sender: bob, Targets: []Party{alice}, Text: textPtr("hello")})
	require.NoError(t, err)
	views := waitForViews(t, feed, func(v []View) bool { return len(v) == 1 })
	assert.Equal(t, models.TransferStatusActive, views[0].Status)

	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-b"})
	require.NoError(t, err)
	_, err = sim.Tick(ctx)
	require.NoError(t, err)

	views = waitForViews(t, feed, func(v []View) bool {
		return len(v) == 1 && v[0].Status == models.TransferStatusCompleted
	})
	assert.Equal(t, DirectionReceive, views[0].Direction)
}

func TestFeedCloseStopsUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	feed, err := NewLedger(store, LedgerConfig{}).Watch(context.Background(), "dev-a", FeedConfig{Clock: clock.NewMock()})
	require.NoError(t, err)

	feed.Close()
	for range feed.Updates() {
	}
	assert.ErrorIs(t, feed.Refresh(context.Background()), ErrFeedClosed)
}
