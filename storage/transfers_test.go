package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidshare/models"
)

func TestTransferCreateAndUpdate(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateTransfer(ctx, testFileTransfer("t-1", "dev-a", "dev-b"))
	require.NoError(t, err)
	assert.Equal(t, mock.Now().UnixMilli(), created.CreatedAt.UnixMilli())

	got, err := store.GetTransfer(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Nil(t, got.TextContent)

	require.NoError(t, store.UpdateTransferProgress(ctx, "t-1", models.TransferUpdate{Progress: 40, Status: models.TransferStatusActive}))
	updated, err := store.GetTransfer(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Progress)

	require.NoError(t, store.UpdateTransferProgress(ctx, "t-1", models.TransferUpdate{Progress: 100, Status: models.TransferStatusCompleted}))
	completed, err := store.GetTransfer(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, completed.Status)

	err = store.UpdateTransferProgress(ctx, "t-missing", models.TransferUpdate{Progress: 1, Status: models.TransferStatusActive})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.UpdateTransferProgress(ctx, "t-1", models.TransferUpdate{Progress: 120, Status: models.TransferStatusActive})
	assert.True(t, errors.Is(err, models.ErrInvalid))
}

func TestTextTransferKeepsContent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	text := "hello"
	_, err := store.CreateTransfer(ctx, models.Transfer{
		ID:           "t-text",
		Kind:         models.TransferKindText,
		DisplayName:  "Text message",
		SizeBytes:    int64(len(text)),
		TextContent:  &text,
		Status:       models.TransferStatusActive,
		SenderID:     "dev-b",
		SenderName:   "Bob",
		ReceiverID:   "dev-a",
		ReceiverName: "Alice",
	})
	require.NoError(t, err)

	got, err := store.GetTransfer(ctx, "t-text")
	require.NoError(t, err)
	require.NotNil(t, got.TextContent)
	assert.Equal(t, "hello", *got.TextContent)
}

func TestQueryTransfersOrderingAndFilters(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t-1", "t-2", "t-3"} {
		_, err := store.CreateTransfer(ctx, testFileTransfer(id, "dev-a", "dev-b"))
		require.NoError(t, err)
		mock.Add(time.Second)
	}
	_, err := store.CreateTransfer(ctx, testFileTransfer("t-4", "dev-b", "dev-a"))
	require.NoError(t, err)
	require.NoError(t, store.UpdateTransferProgress(ctx, "t-2", models.TransferUpdate{Progress: 100, Status: models.TransferStatusCompleted}))

	recent, err := store.QueryTransfers(ctx, models.TransferQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t-4", recent[0].ID)
	assert.Equal(t, "t-3", recent[1].ID)

	active, err := store.QueryTransfers(ctx, models.TransferQuery{SenderID: "dev-a", Status: models.TransferStatusActive})
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, tr := range active {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t-3", "t-1"}, ids)
}

func TestQueryTransfersSameTimestampKeepsInsertOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTransfer(ctx, testFileTransfer("t-first", "dev-a", "dev-b"))
	require.NoError(t, err)
	_, err = store.CreateTransfer(ctx, testFileTransfer("t-second", "dev-a", "dev-b"))
	require.NoError(t, err)

	recent, err := store.QueryTransfers(ctx, models.TransferQuery{Limit: 20})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t-second", recent[0].ID)
}

func TestCreateTransferRejectsDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTransfer(ctx, testFileTransfer("t-1", "dev-a", "dev-b"))
	require.NoError(t, err)
	_, err = store.CreateTransfer(ctx, testFileTransfer("t-1", "dev-a", "dev-b"))
	require.Error(t, err)
}
