package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ivmalkov/fieldsync/pkg/api"
)

// contextKey тип для ключей контекста запроса
type contextKey string

// DeviceIDKey ключ контекста с идентификатором аутентифицированного устройства
const DeviceIDKey contextKey = "device_id"

// writeJSON сериализует ответ и выставляет статус
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отправляет стандартное тело ошибки
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "code", code, "message", message)
	}
	writeJSON(w, status, api.ErrorResponse{Error: code, Message: message})
}

// deviceIDFromContext возвращает device id, добавленный auth middleware
func deviceIDFromContext(r *http.Request) string {
	id, _ := r.Context().Value(DeviceIDKey).(string)
	return id
}
