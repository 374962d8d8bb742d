package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/metrics"
	"rapidshare/models"
)

const (
	// DefaultTickInterval is the simulator period.
	DefaultTickInterval = time.Second
	// DefaultStep is the fixed progress increment per tick.
	DefaultStep = 5
)

// Advance returns t moved one step forward. Text completes at once; files
// gain step percent and complete at 100. Non-active records are returned
// unchanged.
func Advance(t models.Transfer, step int) models.Transfer {
	if t.Status != models.TransferStatusActive {
		return t
	}

	if t.Kind == models.TransferKindText {
		t.Progress = models.MaxProgress
		t.Status = models.TransferStatusCompleted
		return t
	}

	if step < 0 {
		step = 0
	}
	t.Progress = min(t.Progress+step, models.MaxProgress)
	if t.Progress == models.MaxProgress {
		t.Status = models.TransferStatusCompleted
	}
	return t
}

// Stepper yields the progress increment for one record on one tick.
type Stepper interface {
	Step() int
}

// FixedStep always yields the same increment.
type FixedStep int

// Step implements Stepper.
func (s FixedStep) Step() int { return int(s) }

type randomStep struct {
	mu    sync.Mutex
	limit int
	rng   *rand.Rand
}

// RandomStep yields increments in 1..limit. A nil rng uses a time-seeded
// source.
func RandomStep(limit int, rng *rand.Rand) Stepper {
	if limit < 1 {
		limit = 1
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &randomStep{limit: limit, rng: rng}
}

func (s *randomStep) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(s.limit) + 1
}

// SimulatorConfig controls a Simulator.
type SimulatorConfig struct {
	SelfID   string
	Interval time.Duration
	Stepper  Stepper
	Clock    clock.Clock

	// OnError receives tick failures from Run. The loop keeps going.
	OnError func(error)
	Logger  *zap.Logger
}

// Simulator advances the active transfers this device sent.
type Simulator struct {
	store  Store
	cfg    SimulatorConfig
	logger *zap.Logger
}

// NewSimulator returns a simulator for the sender cfg.SelfID.
func NewSimulator(store Store, cfg SimulatorConfig) (*Simulator, error) {
	if store == nil {
		return nil, errors.New("transfer store is required")
	}
	if cfg.SelfID == "" {
		return nil, fmt.Errorf("%w: simulator sender id is required", models.ErrInvalid)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Stepper == nil {
		cfg.Stepper = FixedStep(DefaultStep)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Simulator{
		store:  store,
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("simulator"),
	}, nil
}

// Tick advances every active record sent by this device once and returns
// how many records were written. Writes are unconditional.
func (s *Simulator) Tick(ctx context.Context) (int, error) {
	metrics.SimulatorTicks.Inc()

	active, err := s.store.QueryTransfers(ctx, models.TransferQuery{
		SenderID: s.cfg.SelfID,
		Status:   models.TransferStatusActive,
	})
	if err != nil {
		return 0, fmt.Errorf("read active transfers: %w", err)
	}

	var (
		written int
		errs    error
	)
	for _, t := range active {
		next := Advance(t, s.cfg.Stepper.Step())
		if next.Progress == t.Progress && next.Status == t.Status {
			continue
		}

		update := models.TransferUpdate{Progress: next.Progress, Status: next.Status}
		if err := s.store.UpdateTransferProgress(ctx, t.ID, update); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("advance transfer %s: %w", t.ID, err))
			continue
		}
		written++
		if next.Status == models.TransferStatusCompleted {
			metrics.TransfersCompleted.WithLabelValues(string(t.Kind)).Inc()
			s.logger.Debug("transfer completed",
				zap.String("transfer_id", t.ID),
				zap.String("receiver_id", t.ReceiverID),
			)
		}
	}
	return written, errs
}

// Run ticks every Interval until ctx ends.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.cfg.Clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("simulator tick failed", zap.Error(err))
				if s.cfg.OnError != nil {
					s.cfg.OnError(err)
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
