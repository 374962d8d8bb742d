package storage

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"rapidshare/models"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	dataDir := t.TempDir()
	store, _, err := Open(dataDir, WithClock(mock))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store, mock
}

func testPeer(id, name, groupKey string) models.Peer {
	return models.Peer{
		ID:          id,
		Name:        name,
		Address:     "203.0.113.5",
		GroupKey:    groupKey,
		DeviceClass: models.DeviceClassLinux,
		Status:      models.PeerStatusOnline,
	}
}

func testFileTransfer(id, senderID, receiverID string) models.Transfer {
	return models.Transfer{
		ID:           id,
		Kind:         models.TransferKindFile,
		DisplayName:  "photo.png",
		SizeBytes:    2048,
		Status:       models.TransferStatusActive,
		SenderID:     senderID,
		SenderName:   "Sender",
		ReceiverID:   receiverID,
		ReceiverName: "Receiver",
	}
}
