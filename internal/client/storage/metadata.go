package storage

import "context"

// SyncMetadata defines interface for storing sync cursor metadata
type SyncMetadata interface {
	// SaveLastSync saves the watermark of the last fully successful sync cycle
	SaveLastSync(ctx context.Context, watermark int64) error

	// LastSync retrieves the watermark of the last fully successful sync cycle.
	// Returns 0 if no sync has been performed yet.
	LastSync(ctx context.Context) (int64, error)
}

// DeviceStore defines interface for persisting the installation device id
type DeviceStore interface {
	// SaveDeviceID persists the device id for the lifetime of the installation
	SaveDeviceID(ctx context.Context, id string) error

	// DeviceID retrieves the persisted device id.
	// Returns ErrDeviceNotFound if no id has been generated yet.
	DeviceID(ctx context.Context) (string, error)
}
