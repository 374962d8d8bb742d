package models

import (
	"fmt"
	"strings"
	"time"
)

// CollectionTransfers names the shared transfer ledger collection.
const CollectionTransfers = "transfers"

// TransferKind distinguishes file hand-offs from text messages.
type TransferKind string

const (
	TransferKindFile TransferKind = "file"
	TransferKindText TransferKind = "text"
)

// Validate reports whether the kind is one of the known values.
func (k TransferKind) Validate() error {
	switch k {
	case TransferKindFile, TransferKindText:
		return nil
	default:
		return fmt.Errorf("%w: transfer type %q", ErrInvalid, string(k))
	}
}

// TransferStatus is the lifecycle state of a transfer record.
//
// Only active and completed are entered by the simulated flow; the remaining
// values are accepted by the store so records written by other clients load.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusActive    TransferStatus = "active"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
	TransferStatusCancelled TransferStatus = "cancelled"
)

// Validate reports whether the status is one of the known values.
func (s TransferStatus) Validate() error {
	switch s {
	case TransferStatusPending, TransferStatusActive, TransferStatusCompleted, TransferStatusFailed, TransferStatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: transfer status %q", ErrInvalid, string(s))
	}
}

// Terminal reports whether no further progress is expected.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferStatusCompleted, TransferStatusFailed, TransferStatusCancelled:
		return true
	default:
		return false
	}
}

// MaxProgress is the progress value of a finished transfer.
const MaxProgress = 100

// Transfer is one ledger entry between a sender and a receiver.
type Transfer struct {
	ID           string         `json:"id"`
	Kind         TransferKind   `json:"type"`
	DisplayName  string         `json:"fileName"`
	SizeBytes    int64          `json:"fileSize"`
	TextContent  *string        `json:"textContent,omitempty"`
	Progress     int            `json:"progress"`
	Status       TransferStatus `json:"status"`
	SenderID     string         `json:"senderId"`
	SenderName   string         `json:"senderName"`
	ReceiverID   string         `json:"receiverId"`
	ReceiverName string         `json:"receiverName"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Validate checks a transfer before it is written.
func (t Transfer) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: transfer id is required", ErrInvalid)
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := t.Status.Validate(); err != nil {
		return err
	}
	if err := ValidateProgress(t.Progress); err != nil {
		return err
	}
	if t.SizeBytes < 0 {
		return fmt.Errorf("%w: transfer size must be >= 0", ErrInvalid)
	}
	if t.SenderID == "" || t.ReceiverID == "" {
		return fmt.Errorf("%w: transfer sender and receiver are required", ErrInvalid)
	}
	if t.Kind == TransferKindText && t.TextContent == nil {
		return fmt.Errorf("%w: text transfer requires text content", ErrInvalid)
	}
	if t.Kind == TransferKindFile && t.TextContent != nil {
		return fmt.Errorf("%w: file transfer must not carry text content", ErrInvalid)
	}
	return nil
}

// InvolvesDevice reports whether the device is the sender or the receiver.
func (t Transfer) InvolvesDevice(deviceID string) bool {
	return deviceID != "" && (t.SenderID == deviceID || t.ReceiverID == deviceID)
}

// ValidateProgress rejects values outside 0..100.
func ValidateProgress(progress int) error {
	if progress < 0 || progress > MaxProgress {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalid, progress)
	}
	return nil
}

// TransferQuery narrows a ledger read. Results are newest first.
type TransferQuery struct {
	SenderID string
	Status   TransferStatus
	Limit    int
}

// TransferUpdate carries the only fields the simulator mutates.
type TransferUpdate struct {
	Progress int            `json:"progress"`
	Status   TransferStatus `json:"status"`
}
