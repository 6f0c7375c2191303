package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ivmalkov/fieldsync/internal/models"
	"github.com/ivmalkov/fieldsync/internal/server/storage"
)

// Apply применяет клиентскую операцию в одной транзакции.
// Идемпотентность: операция с уже виденным id не меняет состояние и
// возвращает текущую версию сущности (повтор push, ответ которого потерялся).
// Конфликт: ревизия сущности не совпадает с base revision операции.
func (s *Storage) Apply(ctx context.Context, op *models.PendingOperation) (*storage.ApplyOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Проверяем, не применялась ли операция раньше
	var appliedRevision int64
	err = tx.QueryRowContext(ctx,
		`SELECT revision FROM applied_operations WHERE operation_id = ?`,
		op.ID,
	).Scan(&appliedRevision)

	switch {
	case err == nil:
		record, getErr := getEntityTx(ctx, tx, op.Collection, op.EntityID)
		if getErr != nil && !errors.Is(getErr, storage.ErrEntityNotFound) {
			return nil, getErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
		return &storage.ApplyOutcome{Record: record, Duplicate: true}, nil
	case errors.Is(err, sql.ErrNoRows):
		// Операция новая
	default:
		return nil, fmt.Errorf("failed to check applied operations: %w", err)
	}

	// Сверяем ревизию с base revision операции
	existing, err := getEntityTx(ctx, tx, op.Collection, op.EntityID)
	if err != nil && !errors.Is(err, storage.ErrEntityNotFound) {
		return nil, err
	}

	if existing != nil && existing.Revision != op.BaseRevision {
		// Обе стороны изменили сущность после общей точки - конфликт
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
		return &storage.ApplyOutcome{Record: existing, Conflict: true}, nil
	}

	revision, err := nextRevisionTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	record := &models.EntityRecord{
		UpdatedAt:  time.Now().UTC(),
		Collection: op.Collection,
		ID:         op.EntityID,
		Payload:    op.Payload,
		Revision:   revision,
		Deleted:    op.Kind == models.OpDelete,
	}
	if record.Deleted && len(record.Payload) == 0 && existing != nil {
		record.Payload = existing.Payload
	}

	if err := upsertEntityTx(ctx, tx, record, op.DeviceID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO applied_operations (operation_id, collection, entity_id, revision, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.Collection, op.EntityID, revision, record.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("failed to record applied operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &storage.ApplyOutcome{Record: record}, nil
}

// ChangesSince возвращает записи с ревизией больше since и текущий watermark
func (s *Storage) ChangesSince(ctx context.Context, since int64) ([]*models.EntityRecord, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, entity_id, payload, revision, deleted, updated_at
		 FROM entities WHERE revision > ? ORDER BY revision ASC`,
		since,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*models.EntityRecord
	for rows.Next() {
		record, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate changes: %w", err)
	}

	var watermark int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM revision_counter WHERE id = 1`,
	).Scan(&watermark); err != nil {
		return nil, 0, fmt.Errorf("failed to read revision counter: %w", err)
	}

	return records, watermark, nil
}

// Get возвращает запись по (collection, entityID)
func (s *Storage) Get(ctx context.Context, collection, entityID string) (*models.EntityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, entity_id, payload, revision, deleted, updated_at
		 FROM entities WHERE collection = ? AND entity_id = ?`,
		collection, entityID,
	)

	record, err := scanEntity(row)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ForceWrite записывает документ как новую ревизию без проверки base revision
func (s *Storage) ForceWrite(ctx context.Context, record *models.EntityRecord) (*models.EntityRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	revision, err := nextRevisionTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	written := record.Clone()
	written.Revision = revision
	written.UpdatedAt = time.Now().UTC()

	if err := upsertEntityTx(ctx, tx, written, ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return written, nil
}

// scanner абстрагирует *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*models.EntityRecord, error) {
	var (
		record    models.EntityRecord
		deleted   int
		updatedAt string
	)

	err := row.Scan(&record.Collection, &record.ID, &record.Payload, &record.Revision, &deleted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	record.Deleted = deleted != 0

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	record.UpdatedAt = ts

	return &record, nil
}

func getEntityTx(ctx context.Context, tx *sql.Tx, collection, entityID string) (*models.EntityRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT collection, entity_id, payload, revision, deleted, updated_at
		 FROM entities WHERE collection = ? AND entity_id = ?`,
		collection, entityID,
	)
	return scanEntity(row)
}

// nextRevisionTx выдает следующую монотонную ревизию хранилища
func nextRevisionTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE revision_counter SET value = value + 1 WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("failed to advance revision counter: %w", err)
	}

	var revision int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM revision_counter WHERE id = 1`,
	).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to read revision counter: %w", err)
	}

	return revision, nil
}

func upsertEntityTx(ctx context.Context, tx *sql.Tx, record *models.EntityRecord, deviceID string) error {
	payload := record.Payload
	if payload == nil {
		payload = []byte("null")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (collection, entity_id, payload, revision, deleted, device_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection, entity_id) DO UPDATE SET
		     payload = excluded.payload,
		     revision = excluded.revision,
		     deleted = excluded.deleted,
		     device_id = excluded.device_id,
		     updated_at = excluded.updated_at`,
		record.Collection, record.ID, []byte(payload), record.Revision,
		boolToInt(record.Deleted), deviceID, record.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
