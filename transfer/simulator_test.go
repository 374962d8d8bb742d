package transfer

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidshare/models"
)

func TestAdvanceFile(t *testing.T) {
	record := models.Transfer{Kind: models.TransferKindFile, Status: models.TransferStatusActive, Progress: 90}

	next := Advance(record, 5)
	assert.Equal(t, 95, next.Progress)
	assert.Equal(t, models.TransferStatusActive, next.Status)

	next = Advance(next, 10)
	assert.Equal(t, 100, next.Progress)
	assert.Equal(t, models.TransferStatusCompleted, next.Status)

	assert.Equal(t, next, Advance(next, 5))
	assert.Equal(t, 90, Advance(record, -3).Progress)
}

func TestAdvanceTextCompletesImmediately(t *testing.T) {
	record := models.Transfer{Kind: models.TransferKindText, Status: models.TransferStatusActive}
	next := Advance(record, 1)
	assert.Equal(t, 100, next.Progress)
	assert.Equal(t, models.TransferStatusCompleted, next.Status)
}

func TestRandomStepRange(t *testing.T) {
	stepper := RandomStep(5, rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 200; i++ {
		step := stepper.Step()
		require.GreaterOrEqual(t, step, 1)
		require.LessOrEqual(t, step, 5)
	}
}

func TestSimulatorCompletesFileWithNonDecreasingProgress(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedger(store, LedgerConfig{})
	ctx := context.Background()

	created, err := ledger.Send(ctx, SendRequest{Sender: alice, Targets: []Party{bob}, Files: []FileItem{{Name: "big.iso", Size: 1 << 30}}})
	require.NoError(t, err)
	id := created[0].ID

	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-a", Stepper: RandomStep(5, rand.New(rand.NewPCG(7, 9)))})
	require.NoError(t, err)

	last := 0
	for i := 0; i < 200; i++ {
		_, err := sim.Tick(ctx)
		require.NoError(t, err)
		record, err := store.GetTransfer(ctx, id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, record.Progress, last)
		last = record.Progress
		if record.Status == models.TransferStatusCompleted {
			assert.Equal(t, 100, record.Progress)
			return
		}
	}
	t.Fatal("file transfer never completed")
}

func TestSimulatorFixedStepTakesTwentyTicks(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedger(store, LedgerConfig{})
	_, err := ledger.Send(context.Background(), SendRequest{Sender: alice, Targets: []Party{bob}, Files: []FileItem{{Name: "a", Size: 1}}})
	require.NoError(t, err)

	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-a"})
	require.NoError(t, err)
	assert.Equal(t, 20, tickUntilIdle(t, sim, 50))
}

func TestSimulatorOnlyAdvancesOwnTransfers(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedger(store, LedgerConfig{})
	ctx := context.Background()

	created, err := ledger.Send(ctx, SendRequest{Sender: bob, Targets: []Party{alice}, Files: []FileItem{{Name: "a", Size: 1}}})
	require.NoError(t, err)

	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-a"})
	require.NoError(t, err)
	written, err := sim.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, written)

	record, err := store.GetTransfer(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, record.Progress)
}

// Two devices share one store; Bob sends "hello" to Alice.
func TestHelloScenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	ledger := NewLedger(store, LedgerConfig{})

	_, err := ledger.Send(ctx, SendRequest{Sender: bob, Targets: []Party{alice}, Text: textPtr("hello")})
	require.NoError(t, err)

	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-b"})
	require.NoError(t, err)
	written, err := sim.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	views, err := ledger.Recent(ctx, "dev-a", 20)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, DirectionReceive, views[0].Direction)
	assert.Equal(t, "Bob", views[0].PeerName)
	require.NotNil(t, views[0].TextContent)
	assert.Equal(t, "hello", *views[0].TextContent)
	assert.Equal(t, models.TransferStatusCompleted, views[0].Status)
	assert.Equal(t, 100, views[0].Progress)
}

func TestSimulatorRunTicksOnClock(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedger(store, LedgerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := ledger.Send(ctx, SendRequest{Sender: alice, Targets: []Party{bob}, Files: []FileItem{{Name: "a", Size: 1}}})
	require.NoError(t, err)

	mock := clock.NewMock()
	sim, err := NewSimulator(store, SimulatorConfig{SelfID: "dev-a", Clock: mock, Interval: time.Second})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		record, err := store.GetTransfer(context.Background(), created[0].ID)
		return err == nil && record.Progress > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
