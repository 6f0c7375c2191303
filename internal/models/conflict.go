package models

import "encoding/json"

// Resolution способ разрешения конфликта
type Resolution string

// Поддерживаемые способы разрешения
const (
	// ResolutionUseServer отбросить локальное изменение, принять серверную версию
	ResolutionUseServer Resolution = "use_server"
	// ResolutionUseClient перезаписать сервер локальной версией (явный выбор, не гонка часов)
	ResolutionUseClient Resolution = "use_client"
	// ResolutionMerge объединить обе версии функцией слияния
	ResolutionMerge Resolution = "merge"
)

// Valid проверяет, что resolution является одним из известных способов
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionUseServer, ResolutionUseClient, ResolutionMerge:
		return true
	}
	return false
}

// MergeFunc объединяет клиентскую и серверную версии payload в одну.
// Вызывается только для Resolution = merge.
type MergeFunc func(client, server json.RawMessage) (json.RawMessage, error)

// ConflictRecord описывает расхождение между клиентской и серверной версиями
// одной сущности: обе стороны изменили ее после последней общей точки
// синхронизации. На одну сущность одновременно открыт не более чем один
// конфликт; повторные конфликтующие push удерживаются до его разрешения.
type ConflictRecord struct {
	ClientVersion   *EntityRecord   `json:"client_version"`             // ClientVersion локальная версия с неотправленным изменением
	ServerVersion   *EntityRecord   `json:"server_version"`             // ServerVersion актуальная версия на сервере
	Collection      string          `json:"collection"`                 // Collection коллекция сущности
	EntityID        string          `json:"entity_id"`                  // EntityID идентификатор сущности
	OperationID     string          `json:"operation_id"`               // OperationID операция, push которой выявил конфликт
	Resolution      Resolution      `json:"resolution,omitempty"`       // Resolution выбранный способ разрешения (пусто = не разрешен)
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"` // ResolvedPayload итоговый документ после разрешения
}
