// Package directory keeps a live list of online peers sharing this device's
// network group.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/metrics"
	"rapidshare/models"
)

const (
	// EventPeerUpserted is emitted when a peer appears or its metadata changes.
	EventPeerUpserted EventType = "peer_upserted"
	// EventPeerRemoved is emitted when a previously listed peer disappears.
	EventPeerRemoved EventType = "peer_removed"

	// DefaultRefreshInterval is the polling period.
	DefaultRefreshInterval = 5 * time.Second
	// DefaultStaleAfter is three missed heartbeats.
	DefaultStaleAfter = 90 * time.Second
)

// ErrClosed is returned by calls made after the directory stopped.
var ErrClosed = errors.New("peer directory is closed")

// EventType identifies directory updates.
type EventType string

// Event carries one directory diff.
type Event struct {
	Type EventType
	Peer models.Peer
}

// Store is the read side of the peers collection.
type Store interface {
	QueryPeers(ctx context.Context, q models.PeerQuery) ([]models.Peer, error)
}

// ChangeSource is implemented by stores that can push change signals.
type ChangeSource interface {
	Changes(ctx context.Context, collection string) (<-chan struct{}, error)
}

// Config controls one directory subscription.
type Config struct {
	GroupKey string
	SelfID   string

	RefreshInterval time.Duration
	// StaleAfter drops online peers whose LastSeenAt is older than this,
	// measured by the store that stamped it. Zero disables the check.
	StaleAfter time.Duration
	Clock      clock.Clock

	// Changes overrides the push source. When nil and the store implements
	// ChangeSource, the store is used.
	Changes ChangeSource
	OnError func(error)
	Logger  *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.StaleAfter < 0 {
		c.StaleAfter = 0
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// Directory is a running peer subscription.
type Directory struct {
	cfg    Config
	store  Store
	logger *zap.Logger

	mu       sync.RWMutex
	groupKey string
	peers    []models.Peer
	primed   bool

	updates chan []models.Peer
	events  chan Event

	refreshRequests chan refreshRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscribe starts a live query for online peers in cfg.GroupKey. The
// subscription ends when ctx is done or Close is called.
func Subscribe(ctx context.Context, store Store, cfg Config) (*Directory, error) {
	if store == nil {
		return nil, errors.New("peer store is required")
	}
	if cfg.GroupKey == "" {
		return nil, errors.New("group key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Changes == nil {
		if src, ok := store.(ChangeSource); ok {
			cfg.Changes = src
		}
	}

	d := &Directory{
		cfg:             cfg,
		store:           store,
		logger:          cfg.Logger.Named("directory"),
		groupKey:        cfg.GroupKey,
		updates:         make(chan []models.Peer, 1),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	var changes <-chan struct{}
	if cfg.Changes != nil {
		ch, err := cfg.Changes.Changes(d.ctx, models.CollectionPeers)
		if err != nil {
			d.cancel()
			return nil, err
		}
		changes = ch
	}

	d.wg.Add(1)
	go d.loop(changes)
	return d, nil
}

// Updates streams the full peer list. Only the newest unread list is kept.
func (d *Directory) Updates() <-chan []models.Peer {
	return d.updates
}

// Events streams per-peer diffs. Events are dropped when the buffer is full.
func (d *Directory) Events() <-chan Event {
	return d.events
}

// Peers returns the current snapshot sorted by name.
func (d *Directory) Peers() []models.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Peer, len(d.peers))
	copy(out, d.peers)
	return out
}

// Lookup finds a peer in the current snapshot.
func (d *Directory) Lookup(deviceID string) (models.Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, peer := range d.peers {
		if peer.ID == deviceID {
			return peer, true
		}
	}
	return models.Peer{}, false
}

// GroupKey returns the group currently queried.
func (d *Directory) GroupKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.groupKey
}

// Rebind switches the query to a new group key and refreshes. The next
// snapshot fully replaces the previous group's peers.
func (d *Directory) Rebind(ctx context.Context, groupKey string) error {
	if groupKey == "" {
		return errors.New("group key is required")
	}
	d.mu.Lock()
	d.groupKey = groupKey
	d.mu.Unlock()
	return d.Refresh(ctx)
}

// Refresh re-queries immediately and waits for the snapshot to apply.
func (d *Directory) Refresh(ctx context.Context) error {
	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case d.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrClosed
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrClosed
	}
}

// Close stops the subscription and closes both channels.
func (d *Directory) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Directory) loop(changes <-chan struct{}) {
	defer d.wg.Done()
	defer close(d.events)
	defer close(d.updates)

	d.refreshAndReport(d.ctx)

	ticker := d.cfg.Clock.Ticker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.refreshAndReport(d.ctx)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			d.refreshAndReport(d.ctx)
		case req := <-d.refreshRequests:
			req.done <- d.refresh(req.ctx)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Directory) refreshAndReport(ctx context.Context) {
	if err := d.refresh(ctx); err != nil && d.ctx.Err() == nil {
		d.logger.Warn("peer directory refresh failed", zap.Error(err))
		if d.cfg.OnError != nil {
			d.cfg.OnError(err)
		}
	}
}

func (d *Directory) refresh(ctx context.Context) error {
	groupKey := d.GroupKey()
	peers, err := d.store.QueryPeers(ctx, models.PeerQuery{
		GroupKey:   groupKey,
		Status:     models.PeerStatusOnline,
		SeenWithin: d.cfg.StaleAfter,
	})
	if err != nil {
		return err
	}

	next := make([]models.Peer, 0, len(peers))
	for _, peer := range peers {
		if peer.ID == d.cfg.SelfID {
			continue
		}
		if peer.GroupKey != groupKey || peer.Status != models.PeerStatusOnline {
			continue
		}
		next = append(next, peer)
	}
	sort.Slice(next, func(i, j int) bool {
		if next[i].Name == next[j].Name {
			return next[i].ID < next[j].ID
		}
		return next[i].Name < next[j].Name
	})

	d.applySnapshot(next)
	return nil
}

func (d *Directory) applySnapshot(next []models.Peer) {
	d.mu.Lock()
	previous := d.peers
	wasPrimed := d.primed
	d.peers = next
	d.primed = true
	d.mu.Unlock()

	metrics.DirectoryPeers.Set(float64(len(next)))

	prevByID := make(map[string]models.Peer, len(previous))
	for _, peer := range previous {
		prevByID[peer.ID] = peer
	}
	nextByID := make(map[string]struct{}, len(next))

	changed := !wasPrimed || len(previous) != len(next)
	for _, peer := range next {
		nextByID[peer.ID] = struct{}{}
		old, exists := prevByID[peer.ID]
		if !exists || !peersEqual(old, peer) {
			changed = true
			d.emitEvent(Event{Type: EventPeerUpserted, Peer: peer})
		}
	}
	for _, peer := range previous {
		if _, exists := nextByID[peer.ID]; !exists {
			changed = true
			d.emitEvent(Event{Type: EventPeerRemoved, Peer: peer})
		}
	}

	if changed {
		d.publishList(next)
	}
}

func (d *Directory) publishList(list []models.Peer) {
	out := make([]models.Peer, len(list))
	copy(out, list)

	select {
	case <-d.updates:
	default:
	}
	d.updates <- out
}

func (d *Directory) emitEvent(event Event) {
	select {
	case d.events <- event:
	default:
	}
}

// peersEqual ignores LastSeenAt so heartbeats alone do not count as changes.
func peersEqual(a, b models.Peer) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Address == b.Address &&
		a.GroupKey == b.GroupKey &&
		a.DeviceClass == b.DeviceClass &&
		a.Status == b.Status
}
