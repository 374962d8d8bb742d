// Package transfer records simulated transfers in the shared ledger and
// advances their progress.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/metrics"
	"rapidshare/models"
)

const (
	// DefaultRecentLimit is how many ledger records a read fetches.
	DefaultRecentLimit = 20
	// TextDisplayName labels text transfers in listings.
	TextDisplayName = "Text message"

	// AssumedSpeed is the display throughput of an active transfer.
	AssumedSpeed int64 = 15 * 1024 * 1024
	// etaPerPercent is the display time per remaining percent.
	etaPerPercent = 500 * time.Millisecond
)

// Store is the ledger side of the document store.
type Store interface {
	CreateTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error)
	QueryTransfers(ctx context.Context, q models.TransferQuery) ([]models.Transfer, error)
	UpdateTransferProgress(ctx context.Context, transferID string, update models.TransferUpdate) error
}

// Party names one end of a transfer. Names are snapshotted into the record.
type Party struct {
	ID   string
	Name string
}

// FileItem is the metadata of one selected file. Contents never move.
type FileItem struct {
	Name string
	Size int64
}

// SendRequest is one user send action.
type SendRequest struct {
	Sender  Party
	Targets []Party
	Files   []FileItem
	Text    *string
}

// Validate checks the request without touching the store.
func (r SendRequest) Validate() error {
	if len(r.Targets) == 0 {
		return ErrNoTarget
	}
	hasText := r.Text != nil && *r.Text != ""
	if len(r.Files) == 0 && !hasText {
		return ErrEmptyPayload
	}
	if len(r.Files) > 0 && hasText {
		return ErrMixedPayload
	}
	if strings.TrimSpace(r.Sender.ID) == "" {
		return fmt.Errorf("%w: sender id is required", models.ErrInvalid)
	}
	for _, target := range r.Targets {
		if strings.TrimSpace(target.ID) == "" {
			return fmt.Errorf("%w: target id is required", models.ErrInvalid)
		}
	}
	for _, file := range r.Files {
		if file.Size < 0 {
			return fmt.Errorf("%w: file %q has negative size", models.ErrInvalid, file.Name)
		}
	}
	return nil
}

// Direction is a transfer seen from the viewer's side.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// View is a ledger record annotated for one viewer.
type View struct {
	models.Transfer
	Direction Direction
	PeerName  string
	// Speed is a display value in bytes per second.
	Speed int64
	ETA   time.Duration
}

// Annotate computes the viewer-relative fields of t.
func Annotate(t models.Transfer, viewerID string) View {
	v := View{Transfer: t}
	if t.SenderID == viewerID {
		v.Direction = DirectionSend
		v.PeerName = t.ReceiverName
	} else {
		v.Direction = DirectionReceive
		v.PeerName = t.SenderName
	}
	if t.Status == models.TransferStatusActive {
		v.Speed = AssumedSpeed
		v.ETA = time.Duration(models.MaxProgress-t.Progress) * etaPerPercent
	}
	return v
}

// LedgerConfig tunes a Ledger.
type LedgerConfig struct {
	RecentLimit int
	// NewID overrides record ID generation.
	NewID  func() string
	Logger *zap.Logger
}

// Ledger creates and reads transfer records.
type Ledger struct {
	store  Store
	limit  int
	newID  func() string
	logger *zap.Logger
}

// NewLedger returns a ledger over store.
func NewLedger(store Store, cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:  store,
		limit:  cfg.RecentLimit,
		newID:  cfg.NewID,
		logger: logging.OrNop(cfg.Logger).Named("ledger"),
	}
	if l.limit <= 0 {
		l.limit = DefaultRecentLimit
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	return l
}

// Send writes one active record per payload item and target. Validation
// failures write nothing. Write failures do not stop the remaining writes and
// nothing is rolled back: the records that were stored are returned along
// with the combined error.
func (l *Ledger) Send(ctx context.Context, req SendRequest) ([]models.Transfer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		created []models.Transfer
		errs    error
	)
	for _, item := range payloadRecords(req) {
		for _, target := range req.Targets {
			record := item
			record.ID = l.newID()
			record.Status = models.TransferStatusActive
			record.Progress = 0
			record.SenderID = req.Sender.ID
			record.SenderName = req.Sender.Name
			record.ReceiverID = target.ID
			record.ReceiverName = target.Name

			stored, err := l.store.CreateTransfer(ctx, record)
			if err != nil {
				l.logger.Warn("create transfer failed",
					zap.String("receiver_id", target.ID),
					zap.String("name", record.DisplayName),
					zap.Error(err),
				)
				errs = multierr.Append(errs, fmt.Errorf("create transfer to %s: %w", target.ID, err))
				continue
			}
			metrics.TransfersCreated.WithLabelValues(string(stored.Kind)).Inc()
			created = append(created, stored)
		}
	}

	return created, errs
}

func payloadRecords(req SendRequest) []models.Transfer {
	if req.Text != nil && *req.Text != "" {
		text := *req.Text
		return []models.Transfer{{
			Kind:        models.TransferKindText,
			DisplayName: TextDisplayName,
			SizeBytes:   int64(len(text)),
			TextContent: &text,
		}}
	}

	out := make([]models.Transfer, 0, len(req.Files))
	for _, file := range req.Files {
		out = append(out, models.Transfer{
			Kind:        models.TransferKindFile,
			DisplayName: file.Name,
			SizeBytes:   file.Size,
		})
	}
	return out
}

// Recent fetches the newest limit records of the whole ledger and keeps the
// ones viewerID takes part in. A limit <= 0 uses the configured default.
func (l *Ledger) Recent(ctx context.Context, viewerID string, limit int) ([]View, error) {
	if viewerID == "" {
		return nil, errors.New("viewer id is required")
	}
	if limit <= 0 {
		limit = l.limit
	}

	records, err := l.store.QueryTransfers(ctx, models.TransferQuery{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}

	views := make([]View, 0, len(records))
	for _, t := range records {
		if !t.InvolvesDevice(viewerID) {
			continue
		}
		views = append(views, Annotate(t, viewerID))
	}
	return views, nil
}
