package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
)

const (
	keyLastSync = "last_sync"
	keyDeviceID = "device_id"
)

// SaveLastSync saves the watermark of the last fully successful sync cycle
func (s *Storage) SaveLastSync(ctx context.Context, watermark int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return writeLastSync(tx, watermark)
	})
}

// LastSync retrieves the watermark of the last fully successful sync cycle.
// Returns 0 if no sync has been performed yet.
func (s *Storage) LastSync(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var watermark int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		watermark = readLastSync(tx)
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to get last sync watermark: %w", err)
	}

	return watermark, nil
}

// SaveDeviceID persists the device id for the lifetime of the installation
func (s *Storage) SaveDeviceID(ctx context.Context, id string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if err := bucket.Put([]byte(keyDeviceID), []byte(id)); err != nil {
			return fmt.Errorf("failed to save device id: %w", err)
		}

		return nil
	})
}

// DeviceID retrieves the persisted device id
func (s *Storage) DeviceID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var id string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return storage.ErrDeviceNotFound
		}

		data := bucket.Get([]byte(keyDeviceID))
		if data == nil {
			return storage.ErrDeviceNotFound
		}

		id = string(data)
		return nil
	})

	if err != nil {
		return "", err
	}

	return id, nil
}

// writeLastSync сохраняет watermark в metadata bucket текущей транзакции
func writeLastSync(tx *bbolt.Tx, watermark int64) error {
	bucket, err := tx.CreateBucketIfNotExists(bucketMetadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata bucket: %w", err)
	}

	// Конвертируем int64 в bytes
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(watermark))

	if err := bucket.Put([]byte(keyLastSync), buf); err != nil {
		return fmt.Errorf("failed to save last sync watermark: %w", err)
	}

	return nil
}

// readLastSync читает watermark из metadata bucket (0 если его нет)
func readLastSync(tx *bbolt.Tx) int64 {
	bucket := tx.Bucket(bucketMetadata)
	if bucket == nil {
		return 0
	}

	data := bucket.Get([]byte(keyLastSync))
	if data == nil {
		return 0
	}

	return int64(binary.BigEndian.Uint64(data))
}
