package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

// Enqueue добавляет операцию в durable-журнал.
// Возвращает ErrDuplicateOperation при повторном id: очередь никогда
// не содержит две операции с одним идентификатором.
func (s *Storage) Enqueue(ctx context.Context, op *models.PendingOperation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal pending operation: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		if bucket.Get([]byte(op.ID)) != nil {
			return storage.ErrDuplicateOperation
		}

		if err := bucket.Put([]byte(op.ID), data); err != nil {
			return fmt.Errorf("failed to save pending operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return nil
}

// PendingBatch возвращает до limit неразрешенных операций, старые первыми.
// Сортировка по CreatedAt (а не по порядку вставки) исправляет перестановки,
// возникающие при коррекции часов: операции одной сущности всегда уходят
// на сервер в порядке создания.
func (s *Storage) PendingBatch(ctx context.Context, limit int) ([]*models.PendingOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []*models.PendingOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var op models.PendingOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal pending operation: %w", err)
			}
			ops = append(ops, &op)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}

	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		// При равных временах порядок детерминируется по id
		return ops[i].ID < ops[j].ID
	})

	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}

	return ops, nil
}

// PendingCount returns the number of unresolved operations
func (s *Storage) PendingCount(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}

	return count, nil
}

// HasPending сообщает, есть ли в очереди операция для данной сущности
func (s *Storage) HasPending(ctx context.Context, collection, entityID string) (bool, error) {
	if s.db == nil {
		return false, storage.ErrStorageClosed
	}

	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			if found {
				return nil
			}

			var op models.PendingOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal pending operation: %w", err)
			}

			if op.Collection == collection && op.EntityID == entityID {
				found = true
			}

			return nil
		})
	})

	if err != nil {
		return false, fmt.Errorf("failed to scan pending operations: %w", err)
	}

	return found, nil
}

// MarkResolved удаляет операцию из журнала. Идемпотентна: удаление
// отсутствующего ключа в bbolt - no-op.
func (s *Storage) MarkResolved(ctx context.Context, id string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})

	if err != nil {
		return fmt.Errorf("failed to mark operation resolved: %w", err)
	}

	return nil
}

// RecordFailure увеличивает счетчик неудачных попыток и возвращает новое значение
func (s *Storage) RecordFailure(ctx context.Context, id string) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var retryCount int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return storage.ErrOperationNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrOperationNotFound
		}

		var op models.PendingOperation
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("failed to unmarshal pending operation: %w", err)
		}

		op.RetryCount++
		retryCount = op.RetryCount

		updated, err := json.Marshal(&op)
		if err != nil {
			return fmt.Errorf("failed to marshal pending operation: %w", err)
		}

		if err := bucket.Put([]byte(id), updated); err != nil {
			return fmt.Errorf("failed to save pending operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	return retryCount, nil
}

// UpdateBaseRevision устанавливает базовую ревизию всем операциям сущности
func (s *Storage) UpdateBaseRevision(ctx context.Context, collection, entityID string, revision int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		// Собираем ключи заранее: Put внутри ForEach не допускается
		type pending struct {
			key []byte
			op  models.PendingOperation
		}
		var matched []pending

		if err := bucket.ForEach(func(k, v []byte) error {
			var op models.PendingOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal pending operation: %w", err)
			}
			if op.Collection == collection && op.EntityID == entityID {
				key := make([]byte, len(k))
				copy(key, k)
				matched = append(matched, pending{key: key, op: op})
			}
			return nil
		}); err != nil {
			return err
		}

		for _, p := range matched {
			p.op.BaseRevision = revision
			data, err := json.Marshal(&p.op)
			if err != nil {
				return fmt.Errorf("failed to marshal pending operation: %w", err)
			}
			if err := bucket.Put(p.key, data); err != nil {
				return fmt.Errorf("failed to save pending operation: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to update base revision: %w", err)
	}

	return nil
}
