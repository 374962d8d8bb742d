package models

import "errors"

var (
	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalid indicates a document failed validation.
	ErrInvalid = errors.New("invalid record")
	// ErrPermissionDenied indicates the store refused the operation.
	ErrPermissionDenied = errors.New("permission denied")
)
