package storage

import (
	"context"

	"github.com/ivmalkov/fieldsync/internal/models"
)

// EntityStore определяет интерфейс локального хранилища документов сущностей.
// Записи всегда ищутся по паре (collection, id) и перезаписываются целиком.
// Успешная запись durable до возврата из метода: сбой процесса сразу после
// возврата не теряет данные.
type EntityStore interface {
	// Read возвращает запись по (collection, id).
	// Возвращает ErrEntityNotFound, если записи нет. Никогда не ходит в сеть.
	Read(ctx context.Context, collection, id string) (*models.EntityRecord, error)

	// WriteOne атомарно заменяет одну запись.
	// Используется оптимистичной локальной мутацией и применением разрешенного конфликта.
	WriteOne(ctx context.Context, record *models.EntityRecord) error

	// WriteAll атомарно заменяет/дополняет срез коллекции.
	// Используется pull-merge.
	WriteAll(ctx context.Context, collection string, records []*models.EntityRecord) error

	// ListCollection возвращает все неудаленные записи коллекции
	ListCollection(ctx context.Context, collection string) ([]*models.EntityRecord, error)

	// Snapshot экспортирует полное состояние вместе с lastSync
	Snapshot(ctx context.Context) (*models.SyncSnapshot, error)

	// Restore импортирует полное состояние, замещая текущее
	Restore(ctx context.Context, snap *models.SyncSnapshot) error
}
