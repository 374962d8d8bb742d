package storage

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rapidshare/models"
)

func TestChangesSignalsWritesPerCollection(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peers, err := store.Changes(ctx, models.CollectionPeers)
	require.NoError(t, err)
	transfers, err := store.Changes(ctx, models.CollectionTransfers)
	require.NoError(t, err)

	_, err = store.UpsertPeer(ctx, testPeer("dev-a", "Alice", "203-0-113-5"))
	require.NoError(t, err)
	_, err = store.UpsertPeer(ctx, testPeer("dev-a", "Alice", "203-0-113-5"))
	require.NoError(t, err)

	requireSignal(t, peers)
	requireNoSignal(t, peers)
	requireNoSignal(t, transfers)

	_, err = store.CreateTransfer(ctx, testFileTransfer("t-1", "dev-a", "dev-b"))
	require.NoError(t, err)
	requireSignal(t, transfers)
}

func TestChangesClosesOnCancel(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := store.Changes(ctx, models.CollectionPeers)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestChangesEndWithStoreClose(t *testing.T) {
	store, _ := newTestStore(t)
	baseline := runtime.NumGoroutine()

	subs := make([]<-chan struct{}, 0, 4)
	for i := 0; i < 4; i++ {
		ch, err := store.Changes(context.Background(), models.CollectionPeers)
		require.NoError(t, err)
		subs = append(subs, ch)
	}
	require.NoError(t, store.Close())

	for _, ch := range subs {
		_, ok := <-ch
		require.False(t, ok)
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 10*time.Millisecond)

	ch, err := store.Changes(context.Background(), models.CollectionPeers)
	require.NoError(t, err)
	_, ok := <-ch
	require.False(t, ok)
}

func TestChangesRejectsUnknownCollection(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Changes(context.Background(), "messages")
	require.ErrorIs(t, err, models.ErrInvalid)
}

func requireSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "change channel closed unexpectedly")
	case <-time.After(time.Second):
		t.Fatalf("expected change signal")
	}
}

func requireNoSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected change signal")
	case <-time.After(20 * time.Millisecond):
	}
}
