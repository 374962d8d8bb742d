package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidshare/models"
	"rapidshare/storage"
)

const sharedGroup = "203-0-113-5"

func newTestStore(t *testing.T) (*storage.Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, _, err := storage.Open(t.TempDir(), storage.WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func upsert(t *testing.T, store *storage.Store, id, name, groupKey string) {
	t.Helper()
	_, err := store.UpsertPeer(context.Background(), models.Peer{
		ID:          id,
		Name:        name,
		Address:     "203.0.113.5",
		GroupKey:    groupKey,
		DeviceClass: models.DeviceClassAndroid,
		Status:      models.PeerStatusOnline,
	})
	require.NoError(t, err)
}

func peerIDs(peers []models.Peer) []string {
	ids := make([]string, 0, len(peers))
	for _, peer := range peers {
		ids = append(ids, peer.ID)
	}
	return ids
}

func waitForList(t *testing.T, d *Directory, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	deadline := time.After(time.Second)
	for {
		select {
		case list, ok := <-d.Updates():
			require.True(t, ok, "updates channel closed")
			if assert.ObjectsAreEqual(want, peerIDs(list)) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for peer list %v, have %v", want, peerIDs(d.Peers()))
		}
	}
}

func TestDirectoryListsSameGroupPeersExceptSelf(t *testing.T) {
	store, mock := newTestStore(t)
	upsert(t, store, "dev-a", "Alice", sharedGroup)
	upsert(t, store, "dev-b", "Bob", sharedGroup)
	upsert(t, store, "dev-c", "Carol", "198-51-100-7")

	d, err := Subscribe(context.Background(), store, Config{
		GroupKey:        sharedGroup,
		SelfID:          "dev-a",
		RefreshInterval: time.Hour,
		StaleAfter:      DefaultStaleAfter,
		Clock:           mock,
	})
	require.NoError(t, err)
	defer d.Close()

	waitForList(t, d, "dev-b")

	upsert(t, store, "dev-d", "Dave", sharedGroup)
	waitForList(t, d, "dev-b", "dev-d")

	peer, ok := d.Lookup("dev-d")
	require.True(t, ok)
	assert.Equal(t, "Dave", peer.Name)
	_, ok = d.Lookup("dev-a")
	assert.False(t, ok)

	require.NoError(t, store.SetPeerStatus(context.Background(), "dev-b", models.PeerStatusOffline))
	waitForList(t, d, "dev-d")

	var removed []string
	for len(d.Events()) > 0 {
		event := <-d.Events()
		if event.Type == EventPeerRemoved {
			removed = append(removed, event.Peer.ID)
		}
	}
	assert.Equal(t, []string{"dev-b"}, removed)
}

func TestDirectoryDropsStalePeers(t *testing.T) {
	store, mock := newTestStore(t)
	upsert(t, store, "dev-b", "Bob", sharedGroup)

	stale, err := Subscribe(context.Background(), store, Config{
		GroupKey:        sharedGroup,
		SelfID:          "dev-a",
		RefreshInterval: time.Hour,
		StaleAfter:      DefaultStaleAfter,
		Clock:           mock,
	})
	require.NoError(t, err)
	defer stale.Close()

	unbounded, err := Subscribe(context.Background(), store, Config{
		GroupKey:        sharedGroup,
		SelfID:          "dev-a",
		RefreshInterval: time.Hour,
		Clock:           mock,
	})
	require.NoError(t, err)
	defer unbounded.Close()

	waitForList(t, stale, "dev-b")
	waitForList(t, unbounded, "dev-b")

	mock.Add(2 * time.Minute)
	require.NoError(t, stale.Refresh(context.Background()))
	require.NoError(t, unbounded.Refresh(context.Background()))

	assert.Empty(t, stale.Peers())
	assert.Equal(t, []string{"dev-b"}, peerIDs(unbounded.Peers()))
}

func TestDirectoryStalenessIgnoresLocalClockSkew(t *testing.T) {
	store, storeClock := newTestStore(t)
	upsert(t, store, "dev-b", "Bob", sharedGroup)

	ahead := clock.NewMock()
	ahead.Set(storeClock.Now().Add(2 * time.Minute))
	behind := clock.NewMock()
	behind.Set(storeClock.Now().Add(-time.Hour))

	for _, local := range []*clock.Mock{ahead, behind} {
		d, err := Subscribe(context.Background(), store, Config{
			GroupKey:        sharedGroup,
			SelfID:          "dev-a",
			RefreshInterval: time.Hour,
			StaleAfter:      DefaultStaleAfter,
			Clock:           local,
		})
		require.NoError(t, err)
		waitForList(t, d, "dev-b")
		d.Close()
	}

	storeClock.Add(2 * time.Minute)
	d, err := Subscribe(context.Background(), store, Config{
		GroupKey:        sharedGroup,
		SelfID:          "dev-a",
		RefreshInterval: time.Hour,
		StaleAfter:      DefaultStaleAfter,
		Clock:           behind,
	})
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Refresh(context.Background()))
	assert.Empty(t, d.Peers())
}

func TestDirectoryFallbackGroupIsIsolated(t *testing.T) {
	store, mock := newTestStore(t)
	upsert(t, store, "dev-a", "Alice", "local-dev")
	upsert(t, store, "dev-b", "Bob", "local-dev")
	upsert(t, store, "dev-c", "Carol", sharedGroup)

	fallback, err := Subscribe(context.Background(), store, Config{GroupKey: "local-dev", SelfID: "dev-a", Clock: mock})
	require.NoError(t, err)
	defer fallback.Close()

	public, err := Subscribe(context.Background(), store, Config{GroupKey: sharedGroup, SelfID: "dev-x", Clock: mock})
	require.NoError(t, err)
	defer public.Close()

	waitForList(t, fallback, "dev-b")
	waitForList(t, public, "dev-c")
}

func TestDirectoryRebindReplacesSnapshot(t *testing.T) {
	store, mock := newTestStore(t)
	upsert(t, store, "dev-b", "Bob", "local-dev")
	upsert(t, store, "dev-c", "Carol", sharedGroup)

	d, err := Subscribe(context.Background(), store, Config{GroupKey: "local-dev", SelfID: "dev-a", Clock: mock})
	require.NoError(t, err)
	defer d.Close()
	waitForList(t, d, "dev-b")

	require.NoError(t, d.Rebind(context.Background(), sharedGroup))
	assert.Equal(t, sharedGroup, d.GroupKey())
	assert.Equal(t, []string{"dev-c"}, peerIDs(d.Peers()))
}

type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) QueryPeers(context.Context, models.PeerQuery) ([]models.Peer, error) {
	s.calls.Add(1)
	return nil, errors.New("permission-denied")
}

func TestDirectoryReportsErrorsAndCloses(t *testing.T) {
	var reported atomic.Int32
	store := &failingStore{}

	d, err := Subscribe(context.Background(), store, Config{
		GroupKey: sharedGroup,
		Clock:    clock.NewMock(),
		OnError:  func(error) { reported.Add(1) },
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reported.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Error(t, d.Refresh(context.Background()))

	d.Close()
	_, ok := <-d.Updates()
	assert.False(t, ok)
	assert.ErrorIs(t, d.Refresh(context.Background()), ErrClosed)
}

func TestSubscribeRequiresGroupKey(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := Subscribe(context.Background(), store, Config{})
	require.Error(t, err)
}
