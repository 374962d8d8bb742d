package storage

import (
	"context"
	"sync"
)

// changeFeed fans collection change signals out to subscribers. Signals
// coalesce: a subscriber that has not drained its channel sees one pending
// signal no matter how many writes happened.
type changeFeed struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	closed bool
	done   chan struct{}
}

func newChangeFeed() *changeFeed {
	return &changeFeed{
		subs: make(map[string]map[chan struct{}]struct{}),
		done: make(chan struct{}),
	}
}

func (f *changeFeed) subscribe(collection string) (chan struct{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, false
	}
	ch := make(chan struct{}, 1)
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[chan struct{}]struct{})
	}
	f.subs[collection][ch] = struct{}{}
	return ch, true
}

func (f *changeFeed) unsubscribe(collection string, ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[collection][ch]; !ok {
		return
	}
	delete(f.subs[collection], ch)
	close(ch)
}

func (f *changeFeed) publish(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *changeFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for collection, subs := range f.subs {
		for ch := range subs {
			close(ch)
		}
		delete(f.subs, collection)
	}
}

// Changes streams a signal after every write to the collection. The channel
// is closed when ctx ends or the store is closed, whichever comes first.
//
// Only writes made through this Store are observed; other processes sharing
// the database file are picked up by the readers' polling.
func (s *Store) Changes(ctx context.Context, collection string) (<-chan struct{}, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	ch, ok := s.feed.subscribe(collection)
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			s.feed.unsubscribe(collection, ch)
		case <-s.feed.done:
		}
	}()
	return ch, nil
}
