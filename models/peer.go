package models

import (
	"fmt"
	"strings"
	"time"
)

// CollectionPeers names the shared peer presence collection.
const CollectionPeers = "peers"

// PeerStatus is the presence state published by a device.
type PeerStatus string

const (
	PeerStatusOnline  PeerStatus = "online"
	PeerStatusOffline PeerStatus = "offline"
)

// Validate reports whether the status is one of the known values.
func (s PeerStatus) Validate() error {
	switch s {
	case PeerStatusOnline, PeerStatusOffline:
		return nil
	default:
		return fmt.Errorf("%w: peer status %q", ErrInvalid, string(s))
	}
}

// Peer represents one device presence record in the shared store.
type Peer struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Address     string      `json:"ip"`
	GroupKey    string      `json:"networkId"`
	DeviceClass DeviceClass `json:"deviceType"`
	LastSeenAt  time.Time   `json:"lastSeen"`
	Status      PeerStatus  `json:"status"`
}

// Validate checks the fields every stored peer must carry.
func (p Peer) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: peer id is required", ErrInvalid)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: peer name is required", ErrInvalid)
	}
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("%w: peer address is required", ErrInvalid)
	}
	if strings.TrimSpace(p.GroupKey) == "" {
		return fmt.Errorf("%w: peer network id is required", ErrInvalid)
	}
	if err := p.DeviceClass.Validate(); err != nil {
		return err
	}
	return p.Status.Validate()
}

// PeerQuery narrows a peer collection read. Empty fields match everything.
type PeerQuery struct {
	GroupKey string
	Status   PeerStatus
	// SeenWithin keeps peers whose LastSeenAt is within this window of the
	// store's clock. Zero disables the check.
	SeenWithin time.Duration
}

// Matches reports whether the peer satisfies the group and status filters.
// SeenWithin is evaluated by the store against its own clock.
func (q PeerQuery) Matches(p Peer) bool {
	if q.GroupKey != "" && p.GroupKey != q.GroupKey {
		return false
	}
	if q.Status != "" && p.Status != q.Status {
		return false
	}
	return true
}
