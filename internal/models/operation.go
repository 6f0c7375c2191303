package models

import (
	"encoding/json"
	"time"
)

// OperationKind тип локальной мутации
type OperationKind string

// Виды операций над сущностями
const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Valid проверяет, что kind является одним из известных видов операций
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// PendingOperation представляет локальную мутацию, ожидающую подтверждения
// сервером. Операция рождается при изменении сущности пользователем и живет
// в очереди до успешного push либо до dead-letter. Очередь хранит только
// неразрешенные операции: markResolved физически удаляет запись.
type PendingOperation struct {
	CreatedAt    time.Time       `json:"created_at"`    // CreatedAt момент создания мутации; задает порядок применения
	ID           string          `json:"id"`            // ID глобально уникальный идентификатор операции (UUID)
	Kind         OperationKind   `json:"kind"`          // Kind вид операции
	Collection   string          `json:"collection"`    // Collection коллекция сущности
	EntityID     string          `json:"entity_id"`     // EntityID идентификатор сущности
	DeviceID     string          `json:"device_id"`     // DeviceID устройство, создавшее операцию
	Payload      json.RawMessage `json:"payload"`       // Payload новое содержимое документа (nil для delete)
	BaseRevision int64           `json:"base_revision"` // BaseRevision ревизия сущности, которую клиент видел при создании мутации
	RetryCount   int             `json:"retry_count"`   // RetryCount количество неудачных попыток push
}

// Clone создает глубокую копию операции
func (op *PendingOperation) Clone() *PendingOperation {
	payload := make(json.RawMessage, len(op.Payload))
	copy(payload, op.Payload)

	clone := *op
	clone.Payload = payload
	return &clone
}
