package api

import (
	"encoding/json"
	"time"
)

// Статусы результата применения операции на сервере
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// Классы ошибок для Status = error
const (
	ErrorKindTransient = "transient" // временная ошибка, операцию можно повторить
	ErrorKindPermanent = "permanent" // ошибка валидации, повтор бессмысленен
)

// Record представляет серверную версию документа сущности
type Record struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Revision   int64           `json:"revision"`
	Deleted    bool            `json:"deleted"`
}

// PushOperation представляет одну локальную мутацию в запросе push
type PushOperation struct {
	CreatedAt    time.Time       `json:"created_at"`
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Collection   string          `json:"collection"`
	EntityID     string          `json:"entity_id"`
	DeviceID     string          `json:"device_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	BaseRevision int64           `json:"base_revision"`
}

// PushRequest представляет пакет мутаций, отправляемый клиентом
type PushRequest struct {
	Operations []PushOperation `json:"operations"`
}

// PushResult представляет результат применения одной операции
type PushResult struct {
	ID           string  `json:"id"`                      // ID операции из запроса
	Status       string  `json:"status"`                  // success | conflict | error
	ErrorKind    string  `json:"error_kind,omitempty"`    // transient | permanent (для Status = error)
	Message      string  `json:"message,omitempty"`       // человекочитаемое описание ошибки
	ServerRecord *Record `json:"server_record,omitempty"` // актуальная серверная версия (для Status = conflict)
	Revision     int64   `json:"revision,omitempty"`      // новая ревизия сущности (для Status = success)
}

// PushResponse представляет по-операционные результаты push
type PushResponse struct {
	Results []PushResult `json:"results"`
}

// Change представляет одно серверное изменение в ответе pull
type Change struct {
	Record     Record `json:"record"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Revision   int64  `json:"revision"`
}

// PullResponse представляет серверные изменения с ревизией больше since
type PullResponse struct {
	Changes   []Change `json:"changes"`
	Watermark int64    `json:"watermark"` // текущий watermark сервера; клиент сохраняет его после успешного merge
}

// ResolveRequest представляет решение по конфликту сущности
type ResolveRequest struct {
	OperationID     string          `json:"operation_id,omitempty"`
	Collection      string          `json:"collection"`
	Resolution      string          `json:"resolution"` // use_server | use_client | merge
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"`
}

// ResolveResponse возвращает итоговую серверную версию после разрешения
type ResolveResponse struct {
	Record Record `json:"record"`
}

// ErrorResponse представляет тело ответа сервера при ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
