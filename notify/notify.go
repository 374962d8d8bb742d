// Package notify fans user-facing notices out to whatever presents them.
package notify

import (
	"errors"
	"fmt"
	"sync"

	"rapidshare/models"
)

// Variant selects how a notice is presented.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is one user-facing notice.
type Notification struct {
	Title       string
	Description string
	Variant     Variant
}

// Listener receives notifications synchronously on the emitting goroutine.
type Listener func(Notification)

// Center is a registry of listeners. The zero value is ready to use.
type Center struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// On registers fn and returns a func that removes it.
func (c *Center) On(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listeners == nil {
		c.listeners = make(map[int]Listener)
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Emit delivers n to every registered listener.
func (c *Center) Emit(n Notification) {
	if c == nil {
		return
	}
	c.mu.RLock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(n)
	}
}

// NoTargetSelected warns that a send had no receiving device.
func NoTargetSelected() Notification {
	return Notification{
		Title:       "Select a device first",
		Description: "Pick a device from the list before sending.",
		Variant:     VariantDestructive,
	}
}

// PeerSelected confirms a device selection.
func PeerSelected(peerName string) Notification {
	return Notification{
		Title:       fmt.Sprintf("Selected %s", peerName),
		Description: "Now send files or text to start transferring.",
		Variant:     VariantDefault,
	}
}

// SendStarted confirms that transfer records were created.
func SendStarted(count int, peerName string) Notification {
	return Notification{
		Title:       "Transfer Started",
		Description: fmt.Sprintf("Sending %d item(s) to %s", count, peerName),
		Variant:     VariantDefault,
	}
}

// NameUpdated confirms a device rename.
func NameUpdated(name string) Notification {
	return Notification{
		Title:       "Name updated",
		Description: fmt.Sprintf("Other devices will now see you as %s", name),
		Variant:     VariantDefault,
	}
}

// StoreError reports a failed store operation.
func StoreError(err error) Notification {
	title := "Database Error"
	if errors.Is(err, models.ErrPermissionDenied) {
		title = "Permission denied"
	}
	return Notification{
		Title:       title,
		Description: err.Error(),
		Variant:     VariantDestructive,
	}
}
