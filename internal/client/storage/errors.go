package storage

import "errors"

// Common client storage errors
var (
	// ErrEntityNotFound indicates that entity record was not found
	ErrEntityNotFound = errors.New("entity record not found")

	// ErrOperationNotFound indicates that pending operation was not found
	ErrOperationNotFound = errors.New("pending operation not found")

	// ErrDuplicateOperation indicates that operation with the same id is already queued
	ErrDuplicateOperation = errors.New("operation already queued")

	// ErrDeviceNotFound indicates that no device id has been persisted yet
	ErrDeviceNotFound = errors.New("device id not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
