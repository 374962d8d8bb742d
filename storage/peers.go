package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rapidshare/models"
)

const peerColumns = `
			id,
			name,
			ip,
			network_id,
			device_type,
			last_seen,
			status`

// UpsertPeer merges a presence record keyed by device ID. last_seen is
// always assigned by the store; the caller's LastSeenAt is ignored.
func (s *Store) UpsertPeer(ctx context.Context, peer models.Peer) (models.Peer, error) {
	if peer.Status == "" {
		peer.Status = models.PeerStatusOnline
	}
	if err := peer.Validate(); err != nil {
		return models.Peer{}, err
	}
	peer.LastSeenAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (`+peerColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			ip = excluded.ip,
			network_id = excluded.network_id,
			device_type = excluded.device_type,
			last_seen = excluded.last_seen,
			status = excluded.status`,
		peer.ID,
		peer.Name,
		peer.Address,
		peer.GroupKey,
		string(peer.DeviceClass),
		peer.LastSeenAt.UnixMilli(),
		string(peer.Status),
	)
	if err != nil {
		return models.Peer{}, fmt.Errorf("upsert peer %q: %w", peer.ID, err)
	}

	s.feed.publish(models.CollectionPeers)
	return peer, nil
}

// SetPeerStatus updates only the status of an existing peer.
func (s *Store) SetPeerStatus(ctx context.Context, deviceID string, status models.PeerStatus) error {
	if deviceID == "" {
		return fmt.Errorf("%w: peer id is required", models.ErrInvalid)
	}
	if err := status.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE peers
		SET status = ?
		WHERE id = ?`,
		string(status),
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("update peer status %q: %w", deviceID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for peer status update %q: %w", deviceID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.publish(models.CollectionPeers)
	return nil
}

// GetPeer fetches a peer by device ID.
func (s *Store) GetPeer(ctx context.Context, deviceID string) (models.Peer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+peerColumns+`
		FROM peers
		WHERE id = ?`,
		deviceID,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Peer{}, ErrNotFound
		}
		return models.Peer{}, fmt.Errorf("get peer %q: %w", deviceID, err)
	}

	return peer, nil
}

// QueryPeers returns peers matching the query, sorted by name. SeenWithin
// is measured against the store clock, the same clock that stamps last_seen.
func (s *Store) QueryPeers(ctx context.Context, q models.PeerQuery) ([]models.Peer, error) {
	query := `SELECT` + peerColumns + `
		FROM peers
		WHERE 1 = 1`
	args := make([]any, 0, 3)
	if q.GroupKey != "" {
		query += " AND network_id = ?"
		args = append(args, q.GroupKey)
	}
	if q.Status != "" {
		if err := q.Status.Validate(); err != nil {
			return nil, err
		}
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.SeenWithin < 0 {
		return nil, fmt.Errorf("%w: seen-within window must be >= 0", models.ErrInvalid)
	}
	if q.SeenWithin > 0 {
		query += " AND last_seen >= ?"
		args = append(args, s.now().Add(-q.SeenWithin).UnixMilli())
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	peers := make([]models.Peer, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peers = append(peers, peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}

	return peers, nil
}

// PruneOfflinePeers deletes offline peers not seen within olderThan.
func (s *Store) PruneOfflinePeers(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: prune window must be > 0", models.ErrInvalid)
	}
	cutoff := s.now().Add(-olderThan).UnixMilli()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM peers
		WHERE status = ? AND last_seen < ?`,
		string(models.PeerStatusOffline),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune offline peers: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for prune offline peers: %w", err)
	}
	if removed > 0 {
		s.feed.publish(models.CollectionPeers)
	}
	return removed, nil
}

func scanPeer(row scanner) (models.Peer, error) {
	var (
		peer        models.Peer
		deviceClass string
		lastSeen    int64
		status      string
	)

	if err := row.Scan(
		&peer.ID,
		&peer.Name,
		&peer.Address,
		&peer.GroupKey,
		&deviceClass,
		&lastSeen,
		&status,
	); err != nil {
		return models.Peer{}, err
	}

	peer.DeviceClass = models.DeviceClass(deviceClass)
	peer.LastSeenAt = fromUnixMilli(lastSeen)
	peer.Status = models.PeerStatus(status)

	return peer, nil
}
