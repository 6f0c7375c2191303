package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

// Read retrieves an entity record by (collection, id)
func (s *Storage) Read(ctx context.Context, collection, id string) (*models.EntityRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.EntityRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil {
			return storage.ErrEntityNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrEntityNotFound
		}

		record = &models.EntityRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal entity record: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// WriteOne атомарно заменяет одну запись целиком
func (s *Storage) WriteOne(ctx context.Context, record *models.EntityRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal entity record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := createCollectionBucket(tx, record.Collection)
		if err != nil {
			return err
		}

		if err := bucket.Put([]byte(record.ID), data); err != nil {
			return fmt.Errorf("failed to save entity record: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// WriteAll атомарно заменяет/дополняет срез коллекции в одной транзакции.
// Либо записываются все записи, либо ни одна.
func (s *Storage) WriteAll(ctx context.Context, collection string, records []*models.EntityRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := createCollectionBucket(tx, collection)
		if err != nil {
			return err
		}

		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to marshal entity record: %w", err)
			}

			if err := bucket.Put([]byte(record.ID), data); err != nil {
				return fmt.Errorf("failed to save entity record: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// ListCollection returns all non-deleted records of a collection
func (s *Storage) ListCollection(ctx context.Context, collection string) ([]*models.EntityRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.EntityRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil {
			// Нет bucket - возвращаем пустой срез
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var record models.EntityRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal entity record: %w", err)
			}

			if !record.Deleted {
				records = append(records, &record)
			}

			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}

	return records, nil
}

// Snapshot экспортирует все коллекции вместе с lastSync
func (s *Storage) Snapshot(ctx context.Context) (*models.SyncSnapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	snap := models.NewSyncSnapshot()

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketEntities)
		if root == nil {
			return nil
		}

		if err := root.ForEachBucket(func(name []byte) error {
			collection := string(name)
			bucket := root.Bucket(name)

			snap.Collections[collection] = make(map[string]*models.EntityRecord)

			return bucket.ForEach(func(k, v []byte) error {
				var record models.EntityRecord
				if err := json.Unmarshal(v, &record); err != nil {
					return fmt.Errorf("failed to unmarshal entity record: %w", err)
				}
				snap.Collections[collection][record.ID] = &record
				return nil
			})
		}); err != nil {
			return err
		}

		snap.LastSync = readLastSync(tx)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}

	return snap, nil
}

// Restore импортирует полное состояние, замещая текущее содержимое
func (s *Storage) Restore(ctx context.Context, snap *models.SyncSnapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		// Пересоздаем корневой bucket сущностей
		if err := tx.DeleteBucket(bucketEntities); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete entities bucket: %w", err)
		}
		root, err := tx.CreateBucket(bucketEntities)
		if err != nil {
			return fmt.Errorf("failed to create entities bucket: %w", err)
		}

		for collection, records := range snap.Collections {
			bucket, err := root.CreateBucketIfNotExists([]byte(collection))
			if err != nil {
				return fmt.Errorf("failed to create collection bucket: %w", err)
			}

			for id, record := range records {
				data, err := json.Marshal(record)
				if err != nil {
					return fmt.Errorf("failed to marshal entity record: %w", err)
				}
				if err := bucket.Put([]byte(id), data); err != nil {
					return fmt.Errorf("failed to save entity record: %w", err)
				}
			}
		}

		return writeLastSync(tx, snap.LastSync)
	})

	if err != nil {
		return fmt.Errorf("restore transaction failed: %w", err)
	}

	return nil
}

// collectionBucket возвращает вложенный bucket коллекции (nil если его нет)
func collectionBucket(tx *bbolt.Tx, collection string) *bbolt.Bucket {
	root := tx.Bucket(bucketEntities)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(collection))
}

// createCollectionBucket возвращает вложенный bucket коллекции, создавая его при необходимости
func createCollectionBucket(tx *bbolt.Tx, collection string) (*bbolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists(bucketEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to create entities bucket: %w", err)
	}

	bucket, err := root.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection bucket: %w", err)
	}

	return bucket, nil
}
