package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rapidshare/models"
)

const transferColumns = `
			id,
			type,
			file_name,
			file_size,
			text_content,
			progress,
			status,
			sender_id,
			sender_name,
			receiver_id,
			receiver_name,
			created_at`

// CreateTransfer inserts a new ledger record. created_at is assigned by the
// store and orders the ledger globally.
func (s *Store) CreateTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	if t.Status == "" {
		t.Status = models.TransferStatusPending
	}
	if err := t.Validate(); err != nil {
		return models.Transfer{}, err
	}
	t.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (`+transferColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Kind),
		t.DisplayName,
		t.SizeBytes,
		nullString(t.TextContent),
		t.Progress,
		string(t.Status),
		t.SenderID,
		t.SenderName,
		t.ReceiverID,
		t.ReceiverName,
		t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("insert transfer %q: %w", t.ID, err)
	}

	s.feed.publish(models.CollectionTransfers)
	return t, nil
}

// UpdateTransferProgress overwrites progress and status of one record.
//
// The write is unconditional: it does not compare against the previous
// values. Only the sender's simulator is expected to call it.
func (s *Store) UpdateTransferProgress(ctx context.Context, transferID string, update models.TransferUpdate) error {
	if transferID == "" {
		return fmt.Errorf("%w: transfer id is required", models.ErrInvalid)
	}
	if err := models.ValidateProgress(update.Progress); err != nil {
		return err
	}
	if err := update.Status.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers
		SET progress = ?,
		    status = ?
		WHERE id = ?`,
		update.Progress,
		string(update.Status),
		transferID,
	)
	if err != nil {
		return fmt.Errorf("update transfer progress %q: %w", transferID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer progress %q: %w", transferID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.publish(models.CollectionTransfers)
	return nil
}

// GetTransfer fetches one ledger record by ID.
func (s *Store) GetTransfer(ctx context.Context, transferID string) (models.Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+transferColumns+`
		FROM transfers
		WHERE id = ?`,
		transferID,
	)

	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transfer{}, ErrNotFound
		}
		return models.Transfer{}, fmt.Errorf("get transfer %q: %w", transferID, err)
	}

	return t, nil
}

// QueryTransfers returns ledger records newest first. A zero Limit returns
// every matching record.
func (s *Store) QueryTransfers(ctx context.Context, q models.TransferQuery) ([]models.Transfer, error) {
	query := `SELECT` + transferColumns + `
		FROM transfers
		WHERE 1 = 1`
	args := make([]any, 0, 3)
	if q.SenderID != "" {
		query += " AND sender_id = ?"
		args = append(args, q.SenderID)
	}
	if q.Status != "" {
		if err := q.Status.Validate(); err != nil {
			return nil, err
		}
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]models.Transfer, 0)
	for rows.Next() {
		t, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return transfers, nil
}

func scanTransfer(row scanner) (models.Transfer, error) {
	var (
		t           models.Transfer
		kind        string
		textContent sql.NullString
		status      string
		createdAt   int64
	)

	if err := row.Scan(
		&t.ID,
		&kind,
		&t.DisplayName,
		&t.SizeBytes,
		&textContent,
		&t.Progress,
		&status,
		&t.SenderID,
		&t.SenderName,
		&t.ReceiverID,
		&t.ReceiverName,
		&createdAt,
	); err != nil {
		return models.Transfer{}, err
	}

	t.Kind = models.TransferKind(kind)
	t.TextContent = stringPtr(textContent)
	t.Status = models.TransferStatus(status)
	t.CreatedAt = fromUnixMilli(createdAt)

	return t, nil
}
