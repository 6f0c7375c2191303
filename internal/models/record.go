package models

import (
	"encoding/json"
	"time"
)

// EntityRecord представляет документ бизнес-сущности, идентифицируемый парой
// (collection, id). Payload хранится как непрозрачный JSON: движок
// синхронизации не интерпретирует содержимое документа.
type EntityRecord struct {
	UpdatedAt  time.Time       `json:"updated_at"` // UpdatedAt время последнего изменения (для информации)
	Collection string          `json:"collection"` // Collection имя коллекции сущностей
	ID         string          `json:"id"`         // ID идентификатор сущности внутри коллекции
	Payload    json.RawMessage `json:"payload"`    // Payload непрозрачный JSON документ
	Revision   int64           `json:"revision"`   // Revision ревизия, назначенная сервером (0 = не синхронизирована)
	Deleted    bool            `json:"deleted"`    // Deleted флаг soft delete
}

// IsNewerThan сравнивает две версии одной сущности по серверной ревизии.
// Ревизии назначаются сервером монотонно, поэтому сравнение детерминировано
// и не зависит от физических часов клиентов.
func (r *EntityRecord) IsNewerThan(other *EntityRecord) bool {
	return r.Revision > other.Revision
}

// Clone создает глубокую копию записи
func (r *EntityRecord) Clone() *EntityRecord {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)

	return &EntityRecord{
		UpdatedAt:  r.UpdatedAt,
		Collection: r.Collection,
		ID:         r.ID,
		Payload:    payload,
		Revision:   r.Revision,
		Deleted:    r.Deleted,
	}
}
