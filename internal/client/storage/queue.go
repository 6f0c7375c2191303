package storage

import (
	"context"

	"github.com/ivmalkov/fieldsync/internal/models"
)

// OperationQueue определяет интерфейс durable-журнала локальных мутаций.
// Очередь хранит только неразрешенные операции: MarkResolved удаляет запись
// без tombstone. Операции одной сущности упорядочены по CreatedAt и
// применяются к серверу строго в этом порядке.
type OperationQueue interface {
	// Enqueue добавляет операцию в журнал.
	// Возвращает ErrDuplicateOperation, если операция с таким id уже есть.
	Enqueue(ctx context.Context, op *models.PendingOperation) error

	// PendingBatch возвращает до limit неразрешенных операций,
	// отсортированных по CreatedAt (старые первыми). limit <= 0 означает без ограничения.
	PendingBatch(ctx context.Context, limit int) ([]*models.PendingOperation, error)

	// PendingCount возвращает количество неразрешенных операций
	PendingCount(ctx context.Context) (int, error)

	// HasPending сообщает, есть ли в очереди операция для данной сущности.
	// Используется pull-merge, чтобы не затереть незавершенное локальное изменение.
	HasPending(ctx context.Context, collection, entityID string) (bool, error)

	// MarkResolved удаляет операцию из журнала.
	// Идемпотентна: повторный вызов для удаленной операции - no-op.
	MarkResolved(ctx context.Context, id string) error

	// RecordFailure увеличивает счетчик неудачных попыток и возвращает новое
	// значение. Решение retry против dead-letter принимает вызывающий.
	RecordFailure(ctx context.Context, id string) (int, error)

	// UpdateBaseRevision устанавливает базовую ревизию всем операциям сущности.
	// Вызывается после успешного push более ранней операции той же сущности,
	// чтобы последующие операции не выглядели конфликтом самим с собой.
	UpdateBaseRevision(ctx context.Context, collection, entityID string, revision int64) error
}
