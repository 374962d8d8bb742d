package storage

import (
	"database/sql"
	"fmt"
	"time"

	"rapidshare/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = models.ErrNotFound
)

func validateCollection(collection string) error {
	switch collection {
	case models.CollectionPeers, models.CollectionTransfers:
		return nil
	default:
		return fmt.Errorf("%w: unknown collection %q", models.ErrInvalid, collection)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
