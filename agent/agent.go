// Package agent wires one device session: identity, network grouping,
// presence, the peer directory, the transfer ledger and notifications.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rapidshare/directory"
	"rapidshare/logging"
	"rapidshare/models"
	"rapidshare/netclass"
	"rapidshare/notify"
	"rapidshare/presence"
	"rapidshare/transfer"
)

// ErrNotStarted is returned by calls that need Start first.
var ErrNotStarted = errors.New("agent is not started")

// Backend is the shared document store, local or hub-backed.
type Backend interface {
	presence.Store
	directory.Store
	transfer.Store
}

// Identity is the persisted device identity.
type Identity interface {
	DeviceID() string
	DeviceName() string
	DeviceClass() models.DeviceClass
	SetDeviceName(name string) error
}

// Resolver classifies the device's network.
type Resolver interface {
	Resolve(ctx context.Context) netclass.Network
}

// Config tunes the device loops. Zero values use each component's default.
type Config struct {
	PresenceInterval  time.Duration
	OfflineTimeout    time.Duration
	DirectoryRefresh  time.Duration
	StaleAfter        time.Duration
	SimulatorInterval time.Duration
	Stepper           transfer.Stepper
	RecentLimit       int

	Clock  clock.Clock
	Logger *zap.Logger
}

// Agent is one running device session.
type Agent struct {
	identity Identity
	backend  Backend
	resolver Resolver
	cfg      Config
	logger   *zap.Logger
	notices  *notify.Center
	ledger   *transfer.Ledger

	mu        sync.RWMutex
	network   netclass.Network
	publisher *presence.Publisher
	directory *directory.Directory
	simulator *transfer.Simulator
	running   bool
}

// New builds an agent. Nothing touches the network or the store until Start.
func New(identity Identity, backend Backend, resolver Resolver, cfg Config) (*Agent, error) {
	if identity == nil {
		return nil, errors.New("identity is required")
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if resolver == nil {
		return nil, errors.New("network resolver is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := logging.OrNop(cfg.Logger)
	cfg.Logger = logger

	return &Agent{
		identity: identity,
		backend:  backend,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.Named("agent"),
		notices:  &notify.Center{},
		ledger: transfer.NewLedger(backend, transfer.LedgerConfig{
			RecentLimit: cfg.RecentLimit,
			Logger:      logger,
		}),
	}, nil
}

// Notifications returns the center user-facing notices are emitted on.
func (a *Agent) Notifications() *notify.Center {
	return a.notices
}

// DeviceID returns this device's stable ID.
func (a *Agent) DeviceID() string {
	return a.identity.DeviceID()
}

// DeviceName returns this device's display name.
func (a *Agent) DeviceName() string {
	return a.identity.DeviceName()
}

// Start resolves the network once, then prepares presence, the directory
// subscription and the simulator. The directory lives until Close.
func (a *Agent) Start(ctx context.Context) (netclass.Network, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.publisher != nil {
		return a.network, nil
	}

	network := a.resolver.Resolve(ctx)
	if network.Fallback {
		a.logger.Warn("network lookup failed, grouping with local fallback devices",
			zap.String("group", network.GroupKey))
	}

	publisher, err := presence.NewPublisher(a.backend, presence.Config{
		DeviceID:       a.identity.DeviceID(),
		DeviceName:     a.identity.DeviceName(),
		Address:        network.Address,
		GroupKey:       network.GroupKey,
		DeviceClass:    a.identity.DeviceClass(),
		Interval:       a.cfg.PresenceInterval,
		OfflineTimeout: a.cfg.OfflineTimeout,
		Clock:          a.cfg.Clock,
		OnError:        a.reportStoreError,
		Logger:         a.cfg.Logger,
	})
	if err != nil {
		return netclass.Network{}, fmt.Errorf("create presence publisher: %w", err)
	}

	simulator, err := transfer.NewSimulator(a.backend, transfer.SimulatorConfig{
		SelfID:   a.identity.DeviceID(),
		Interval: a.cfg.SimulatorInterval,
		Stepper:  a.cfg.Stepper,
		Clock:    a.cfg.Clock,
		OnError:  a.reportStoreError,
		Logger:   a.cfg.Logger,
	})
	if err != nil {
		return netclass.Network{}, fmt.Errorf("create transfer simulator: %w", err)
	}

	dir, err := directory.Subscribe(context.Background(), a.backend, directory.Config{
		GroupKey:        network.GroupKey,
		SelfID:          a.identity.DeviceID(),
		RefreshInterval: a.cfg.DirectoryRefresh,
		StaleAfter:      a.cfg.StaleAfter,
		Clock:           a.cfg.Clock,
		OnError:         a.reportStoreError,
		Logger:          a.cfg.Logger,
	})
	if err != nil {
		return netclass.Network{}, fmt.Errorf("subscribe to peer directory: %w", err)
	}

	a.network = network
	a.publisher = publisher
	a.simulator = simulator
	a.directory = dir

	a.logger.Info("device session ready",
		zap.String("device_id", a.identity.DeviceID()),
		zap.String("address", network.Address),
		zap.String("group", network.GroupKey),
	)
	return network, nil
}

// Run publishes presence and advances this device's transfers until ctx
// ends. Background failures become notifications; they never stop Run.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	publisher, simulator := a.publisher, a.simulator
	if publisher == nil {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return simulator.Run(gctx) })
	return g.Wait()
}

// Close ends the directory subscription.
func (a *Agent) Close() {
	a.mu.RLock()
	dir := a.directory
	a.mu.RUnlock()
	if dir != nil {
		dir.Close()
	}
}

// Network returns the network resolved by Start.
func (a *Agent) Network() netclass.Network {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.network
}

// Directory returns the live peer directory, or nil before Start.
func (a *Agent) Directory() *directory.Directory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.directory
}

// Peers returns the current nearby peers.
func (a *Agent) Peers() []models.Peer {
	dir := a.Directory()
	if dir == nil {
		return nil
	}
	return dir.Peers()
}

// Publish writes this device's presence once.
func (a *Agent) Publish(ctx context.Context) (models.Peer, error) {
	a.mu.RLock()
	publisher := a.publisher
	a.mu.RUnlock()
	if publisher == nil {
		return models.Peer{}, ErrNotStarted
	}

	peer, err := publisher.Publish(ctx)
	if err != nil {
		a.reportStoreError(err)
	}
	return peer, err
}

// Send records one transfer per payload item and target. Targets are looked
// up in the directory; an empty list emits a warning and fails with
// transfer.ErrNoTarget.
func (a *Agent) Send(ctx context.Context, targetIDs []string, files []transfer.FileItem, text *string) ([]models.Transfer, error) {
	dir := a.Directory()
	if dir == nil {
		return nil, ErrNotStarted
	}

	if len(targetIDs) == 0 {
		a.notices.Emit(notify.NoTargetSelected())
		return nil, transfer.ErrNoTarget
	}

	targets := make([]transfer.Party, 0, len(targetIDs))
	for _, id := range targetIDs {
		peer, err := a.lookupPeer(ctx, dir, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, transfer.Party{ID: peer.ID, Name: peer.Name})
	}

	created, err := a.ledger.Send(ctx, transfer.SendRequest{
		Sender:  transfer.Party{ID: a.identity.DeviceID(), Name: a.identity.DeviceName()},
		Targets: targets,
		Files:   files,
		Text:    text,
	})
	if len(created) > 0 {
		a.notices.Emit(notify.SendStarted(len(created), targetLabel(targets)))
	}
	if err != nil && !isValidationError(err) {
		a.reportStoreError(err)
	}
	return created, err
}

// Select resolves a nearby peer by ID and confirms the choice.
func (a *Agent) Select(ctx context.Context, targetID string) (models.Peer, error) {
	dir := a.Directory()
	if dir == nil {
		return models.Peer{}, ErrNotStarted
	}
	peer, err := a.lookupPeer(ctx, dir, targetID)
	if err != nil {
		return models.Peer{}, err
	}
	a.notices.Emit(notify.PeerSelected(peer.Name))
	return peer, nil
}

func (a *Agent) lookupPeer(ctx context.Context, dir *directory.Directory, id string) (models.Peer, error) {
	if peer, ok := dir.Lookup(id); ok {
		return peer, nil
	}
	if err := dir.Refresh(ctx); err != nil {
		return models.Peer{}, fmt.Errorf("refresh peer directory: %w", err)
	}
	if peer, ok := dir.Lookup(id); ok {
		return peer, nil
	}
	return models.Peer{}, fmt.Errorf("%w: no nearby peer %q", models.ErrNotFound, id)
}

// SetName renames the device. The name is persisted, carried by presence
// from now on and, while running, published at once.
func (a *Agent) SetName(ctx context.Context, name string) error {
	err := a.identity.SetDeviceName(name)
	if errors.Is(err, models.ErrInvalid) {
		return err
	}
	if err != nil {
		// The in-memory name already changed; keep going with it.
		a.reportStoreError(err)
	}

	a.mu.RLock()
	publisher, running := a.publisher, a.running
	a.mu.RUnlock()

	newName := a.identity.DeviceName()
	if publisher != nil {
		if setErr := publisher.SetName(newName); setErr != nil {
			return setErr
		}
		if running {
			if _, pubErr := publisher.Publish(ctx); pubErr != nil {
				a.reportStoreError(pubErr)
				err = errors.Join(err, pubErr)
			}
		}
	}

	a.notices.Emit(notify.NameUpdated(newName))
	return err
}

// Transfers returns this device's view of the newest ledger records.
func (a *Agent) Transfers(ctx context.Context, limit int) ([]transfer.View, error) {
	views, err := a.ledger.Recent(ctx, a.identity.DeviceID(), limit)
	if err != nil {
		a.reportStoreError(err)
	}
	return views, err
}

// WatchTransfers streams this device's view of the ledger.
func (a *Agent) WatchTransfers(ctx context.Context) (*transfer.Feed, error) {
	return a.ledger.Watch(ctx, a.identity.DeviceID(), transfer.FeedConfig{
		Limit:   a.cfg.RecentLimit,
		Clock:   a.cfg.Clock,
		OnError: a.reportStoreError,
	})
}

func (a *Agent) reportStoreError(err error) {
	if err == nil {
		return
	}
	a.notices.Emit(notify.StoreError(err))
}

func isValidationError(err error) bool {
	return errors.Is(err, transfer.ErrNoTarget) ||
		errors.Is(err, transfer.ErrEmptyPayload) ||
		errors.Is(err, transfer.ErrMixedPayload) ||
		errors.Is(err, models.ErrInvalid)
}

func targetLabel(targets []transfer.Party) string {
	if len(targets) == 1 {
		return targets[0].Name
	}
	return strconv.Itoa(len(targets)) + " devices"
}
