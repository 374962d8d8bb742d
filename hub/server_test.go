package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidshare/models"
	"rapidshare/netclass"
	"rapidshare/storage"
)

const testToken = "s3cret"

func newTestHub(t *testing.T, opts Options) (*httptest.Server, *storage.Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, _, err := storage.Open(t.TempDir(), storage.WithClock(mock))
	require.NoError(t, err)

	opts.Clock = mock
	srv := httptest.NewServer(NewServer(store, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})
	return srv, store, mock
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func testPeer(id, name string) models.Peer {
	return models.Peer{
		ID:          id,
		Name:        name,
		Address:     "203.0.113.5",
		GroupKey:    "203-0-113-5",
		DeviceClass: models.DeviceClassWindows,
		Status:      models.PeerStatusOnline,
	}
}

func TestHealthAndIP(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{Token: testToken})

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/ip", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "127.0.0.1", decode[map[string]string](t, resp)["ip"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/ip", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	forwarded, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer forwarded.Body.Close()
	assert.Equal(t, "203.0.113.5", decode[map[string]string](t, forwarded)["ip"])
}

func lookupIP(t *testing.T, srv *httptest.Server, realIP string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/ip", nil)
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", realIP)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[map[string]string](t, resp)["ip"]
}

func TestIPGroupsLANDevicesByHub(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{NetworkAddress: "10.0.0.2"})

	first := lookupIP(t, srv, "192.168.1.10")
	second := lookupIP(t, srv, "192.168.1.11")
	assert.Equal(t, "10.0.0.2", first)
	assert.Equal(t, netclass.GroupKeyFor(first), netclass.GroupKeyFor(second))

	assert.Equal(t, "198.51.100.4", lookupIP(t, srv, "198.51.100.4"))
}

func TestIPDefaultsToArrivalAddress(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{})

	first := lookupIP(t, srv, "192.168.1.10")
	second := lookupIP(t, srv, "fe80::1")
	assert.Equal(t, "127.0.0.1", first)
	assert.Equal(t, first, second)
}

func TestTokenRequired(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{Token: testToken})

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/peers", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "permission denied", decode[map[string]string](t, resp)["error"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers", "wrong", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers", testToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPeerRoutes(t *testing.T) {
	srv, _, mock := newTestHub(t, Options{})

	resp := doJSON(t, http.MethodPut, srv.URL+"/v1/peers/dev-a", "", testPeer("", "Alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decode[models.Peer](t, resp)
	assert.Equal(t, "dev-a", stored.ID)
	assert.Equal(t, mock.Now().UnixMilli(), stored.LastSeenAt.UnixMilli())

	resp = doJSON(t, http.MethodPut, srv.URL+"/v1/peers/dev-b", "", testPeer("dev-b", "Bob"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, srv.URL+"/v1/peers/dev-c", "", testPeer("dev-x", "Mismatch"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/v1/peers/dev-b", "", map[string]string{"status": "offline"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers?networkId=203-0-113-5&status=online", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	peers := decode[[]models.Peer](t, resp)
	require.Len(t, peers, 1)
	assert.Equal(t, "dev-a", peers[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers/dev-b", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PeerStatusOffline, decode[models.Peer](t, resp).Status)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/v1/peers/dev-missing", "", map[string]string{"status": "offline"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/v1/peers/dev-a", "", map[string]string{"status": "away"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers?status=away", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers?seenWithin=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	mock.Add(2 * time.Minute)
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers?seenWithin=90s", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.Peer](t, resp))
}

func TestTransferRoutes(t *testing.T) {
	srv, _, mock := newTestHub(t, Options{})

	hello := "hello"
	for i, id := range []string{"t-1", "t-2"} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/v1/transfers", "", models.Transfer{
			ID:           id,
			Kind:         models.TransferKindText,
			DisplayName:  "Text message",
			SizeBytes:    int64(len(hello)),
			TextContent:  &hello,
			Status:       models.TransferStatusActive,
			SenderID:     "dev-b",
			SenderName:   "Bob",
			ReceiverID:   "dev-a",
			ReceiverName: "Alice",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "transfer %d", i)
		mock.Add(time.Second)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/transfers?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decode[[]models.Transfer](t, resp)
	require.Len(t, latest, 1)
	assert.Equal(t, "t-2", latest[0].ID)
	require.NotNil(t, latest[0].TextContent)
	assert.Equal(t, "hello", *latest[0].TextContent)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/v1/transfers/t-1", "", models.TransferUpdate{Progress: 100, Status: models.TransferStatusCompleted})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/transfers?senderId=dev-b&status=active", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active := decode[[]models.Transfer](t, resp)
	require.Len(t, active, 1)
	assert.Equal(t, "t-2", active[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/transfers/t-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.TransferStatusCompleted, decode[models.Transfer](t, resp).Status)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/transfers?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/v1/transfers/t-missing", "", models.TransferUpdate{Progress: 5, Status: models.TransferStatusActive})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/transfers", strings.NewReader(`{"bogus":1}`))
	require.NoError(t, err)
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestWatchRejectsUnknownCollection(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{})
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/watch?collection=messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestHub(t, Options{})
	doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rapidshare_hub_requests_total{code="200",route="/health"}`)
}

func TestPrune(t *testing.T) {
	mock := clock.NewMock()
	store, _, err := storage.Open(t.TempDir(), storage.WithClock(mock))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.UpsertPeer(ctx, testPeer("dev-a", "Alice"))
	require.NoError(t, err)
	require.NoError(t, store.SetPeerStatus(ctx, "dev-a", models.PeerStatusOffline))

	disabled := NewServer(store, Options{Clock: mock})
	removed, err := disabled.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	s := NewServer(store, Options{Clock: mock, PruneAfter: 24 * time.Hour})
	mock.Add(48 * time.Hour)
	removed, err = s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(store, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		addr := s.Addr()
		if addr == nil {
			return false
		}
		resp, err := http.Get("http://" + addr.String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
