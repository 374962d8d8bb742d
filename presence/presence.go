// Package presence keeps this device's record in the shared peers
// collection fresh.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/metrics"
	"rapidshare/models"
)

const (
	// DefaultInterval is the heartbeat period.
	DefaultInterval = 30 * time.Second
	// DefaultOfflineTimeout bounds the final offline write.
	DefaultOfflineTimeout = 3 * time.Second
)

// Store is the part of the document store the publisher writes to.
type Store interface {
	UpsertPeer(ctx context.Context, peer models.Peer) (models.Peer, error)
	SetPeerStatus(ctx context.Context, deviceID string, status models.PeerStatus) error
}

// Config describes the device being published.
type Config struct {
	DeviceID    string
	DeviceName  string
	Address     string
	GroupKey    string
	DeviceClass models.DeviceClass

	Interval       time.Duration
	OfflineTimeout time.Duration
	Clock          clock.Clock

	// OnError receives failures from Run. The loop keeps going.
	OnError func(error)
	Logger  *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.OfflineTimeout <= 0 {
		c.OfflineTimeout = DefaultOfflineTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.DeviceClass == "" {
		c.DeviceClass = models.DeviceClassLinux
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.DeviceID) == "":
		return errors.New("device id is required")
	case strings.TrimSpace(c.DeviceName) == "":
		return errors.New("device name is required")
	case strings.TrimSpace(c.Address) == "":
		return errors.New("address is required")
	case strings.TrimSpace(c.GroupKey) == "":
		return errors.New("group key is required")
	}
	return c.DeviceClass.Validate()
}

// Publisher heartbeats one peer record.
type Publisher struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	name string
}

// NewPublisher validates cfg and returns a publisher for it.
func NewPublisher(store Store, cfg Config) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("presence store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}

	return &Publisher{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger.Named("presence"),
		name:   strings.TrimSpace(cfg.DeviceName),
	}, nil
}

// Name returns the name carried by the next publish.
func (p *Publisher) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetName changes the name carried by the next publish.
func (p *Publisher) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: device name is required", models.ErrInvalid)
	}
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
	return nil
}

// Publish upserts the record as online. Repeating it only moves LastSeenAt.
func (p *Publisher) Publish(ctx context.Context) (models.Peer, error) {
	peer := models.Peer{
		ID:          p.cfg.DeviceID,
		Name:        p.Name(),
		Address:     p.cfg.Address,
		GroupKey:    p.cfg.GroupKey,
		DeviceClass: p.cfg.DeviceClass,
		Status:      models.PeerStatusOnline,
	}

	stored, err := p.store.UpsertPeer(ctx, peer)
	if err != nil {
		metrics.PresencePublishes.WithLabelValues("error").Inc()
		return models.Peer{}, fmt.Errorf("publish presence: %w", err)
	}
	metrics.PresencePublishes.WithLabelValues("ok").Inc()
	return stored, nil
}

// GoOffline marks the record offline.
func (p *Publisher) GoOffline(ctx context.Context) error {
	if err := p.store.SetPeerStatus(ctx, p.cfg.DeviceID, models.PeerStatusOffline); err != nil {
		return fmt.Errorf("mark presence offline: %w", err)
	}
	return nil
}

// Run publishes immediately and then every Interval until ctx ends. On exit
// it makes one offline write bounded by OfflineTimeout.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	p.publishOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.publishOnce(ctx)
		case <-ctx.Done():
			offlineCtx, cancel := context.WithTimeout(context.Background(), p.cfg.OfflineTimeout)
			err := p.GoOffline(offlineCtx)
			cancel()
			if err != nil {
				p.report(err)
			} else {
				p.logger.Debug("presence marked offline", zap.String("device_id", p.cfg.DeviceID))
			}
			return nil
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	if _, err := p.Publish(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.report(err)
	}
}

func (p *Publisher) report(err error) {
	p.logger.Warn("presence write failed", zap.Error(err))
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}
