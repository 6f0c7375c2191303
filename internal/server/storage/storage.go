package storage

import (
	"context"
	"errors"

	"github.com/ivmalkov/fieldsync/internal/models"
)

// Common server storage errors
var (
	// ErrEntityNotFound indicates that entity record was not found
	ErrEntityNotFound = errors.New("entity record not found")
)

// ApplyOutcome результат применения одной клиентской операции
type ApplyOutcome struct {
	// Record актуальная серверная версия сущности после (или вместо) применения
	Record *models.EntityRecord

	// Conflict true, если ревизия сущности ушла вперед base revision операции;
	// операция не применена
	Conflict bool

	// Duplicate true, если операция с этим id уже применялась раньше;
	// повтор идемпотентен и не меняет состояние
	Duplicate bool
}

// SyncStorage определяет интерфейс серверного хранилища синхронизации.
// Ревизии назначаются монотонно на все хранилище и служат watermark для pull.
type SyncStorage interface {
	// Apply применяет клиентскую операцию. Повтор операции с тем же id
	// идемпотентен. Расхождение ревизий возвращается как Conflict, не ошибка.
	Apply(ctx context.Context, op *models.PendingOperation) (*ApplyOutcome, error)

	// ChangesSince возвращает записи с ревизией больше since в порядке
	// возрастания ревизий и текущий watermark хранилища
	ChangesSince(ctx context.Context, since int64) ([]*models.EntityRecord, int64, error)

	// Get возвращает запись по (collection, entityID).
	// Возвращает ErrEntityNotFound, если записи нет.
	Get(ctx context.Context, collection, entityID string) (*models.EntityRecord, error)

	// ForceWrite записывает документ как новую ревизию без проверки base
	// revision. Используется применением разрешенного конфликта.
	ForceWrite(ctx context.Context, record *models.EntityRecord) (*models.EntityRecord, error)
}
