package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rapidshare/models"
)

// DefaultFeedInterval is the feed polling period.
const DefaultFeedInterval = time.Second

// ErrFeedClosed is returned by calls made after the feed stopped.
var ErrFeedClosed = errors.New("transfer feed is closed")

// ChangeSource is implemented by stores that can push change signals.
type ChangeSource interface {
	Changes(ctx context.Context, collection string) (<-chan struct{}, error)
}

// FeedConfig controls a live Recent read.
type FeedConfig struct {
	Limit           int
	RefreshInterval time.Duration
	Clock           clock.Clock
	// Changes overrides the push source. When nil and the store implements
	// ChangeSource, the store is used.
	Changes ChangeSource
	OnError func(error)
}

type feedRefresh struct {
	ctx  context.Context
	done chan error
}

// Feed streams a viewer's recent transfers.
type Feed struct {
	ledger   *Ledger
	viewerID string
	cfg      FeedConfig

	mu     sync.RWMutex
	views  []View
	primed bool

	updates  chan []View
	requests chan feedRefresh

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts a live Recent read for viewerID. The feed ends when ctx is
// done or Close is called.
func (l *Ledger) Watch(ctx context.Context, viewerID string, cfg FeedConfig) (*Feed, error) {
	if viewerID == "" {
		return nil, errors.New("viewer id is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultFeedInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Changes == nil {
		if src, ok := l.store.(ChangeSource); ok {
			cfg.Changes = src
		}
	}

	f := &Feed{
		ledger:   l,
		viewerID: viewerID,
		cfg:      cfg,
		updates:  make(chan []View, 1),
		requests: make(chan feedRefresh),
	}
	f.ctx, f.cancel = context.WithCancel(ctx)

	var changes <-chan struct{}
	if cfg.Changes != nil {
		ch, err := cfg.Changes.Changes(f.ctx, models.CollectionTransfers)
		if err != nil {
			f.cancel()
			return nil, err
		}
		changes = ch
	}

	f.wg.Add(1)
	go f.loop(changes)
	return f, nil
}

// Updates streams the annotated list. Only the newest unread list is kept.
func (f *Feed) Updates() <-chan []View {
	return f.updates
}

// Views returns the latest list.
func (f *Feed) Views() []View {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]View, len(f.views))
	copy(out, f.views)
	return out
}

// Refresh re-reads immediately and waits for the result to apply.
func (f *Feed) Refresh(ctx context.Context) error {
	req := feedRefresh{ctx: ctx, done: make(chan error, 1)}

	select {
	case f.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrFeedClosed
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrFeedClosed
	}
}

// Close stops the feed and closes Updates.
func (f *Feed) Close() {
	f.cancel()
	f.wg.Wait()
}

func (f *Feed) loop(changes <-chan struct{}) {
	defer f.wg.Done()
	defer close(f.updates)

	f.refreshAndReport()

	ticker := f.cfg.Clock.Ticker(f.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.refreshAndReport()
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			f.refreshAndReport()
		case req := <-f.requests:
			req.done <- f.refresh(req.ctx)
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *Feed) refreshAndReport() {
	if err := f.refresh(f.ctx); err != nil && f.ctx.Err() == nil {
		f.ledger.logger.Warn("transfer feed refresh failed", zap.Error(err))
		if f.cfg.OnError != nil {
			f.cfg.OnError(err)
		}
	}
}

func (f *Feed) refresh(ctx context.Context) error {
	views, err := f.ledger.Recent(ctx, f.viewerID, f.cfg.Limit)
	if err != nil {
		return err
	}

	f.mu.Lock()
	changed := !f.primed || !viewsEqual(f.views, views)
	f.views = views
	f.primed = true
	f.mu.Unlock()

	if changed {
		out := make([]View, len(views))
		copy(out, views)
		select {
		case <-f.updates:
		default:
		}
		f.updates <- out
	}
	return nil
}

func viewsEqual(a, b []View) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Progress != b[i].Progress || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}
