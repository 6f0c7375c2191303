package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ivmalkov/fieldsync/internal/models"
	"github.com/ivmalkov/fieldsync/internal/server/storage"
	"github.com/ivmalkov/fieldsync/pkg/api"
)

// SyncHandler обрабатывает запросы протокола синхронизации
type SyncHandler struct {
	logger  *slog.Logger
	storage storage.SyncStorage
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(logger *slog.Logger, store storage.SyncStorage) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		storage: store,
	}
}

// HandlePush обрабатывает POST /api/v1/sync/push.
// Каждая операция пакета применяется независимо, ответ содержит
// по-операционные результаты в порядке запроса.
func (h *SyncHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "failed to decode request body")
		return
	}

	if len(req.Operations) == 0 {
		writeJSON(w, http.StatusOK, api.PushResponse{Results: []api.PushResult{}})
		return
	}

	deviceID := deviceIDFromContext(r)

	results := make([]api.PushResult, 0, len(req.Operations))
	for i := range req.Operations {
		results = append(results, h.applyOperation(r, &req.Operations[i], deviceID))
	}

	writeJSON(w, http.StatusOK, api.PushResponse{Results: results})
}

// applyOperation применяет одну операцию и строит результат для ответа
func (h *SyncHandler) applyOperation(r *http.Request, op *api.PushOperation, deviceID string) api.PushResult {
	if msg := validateOperation(op); msg != "" {
		// Ошибка валидации постоянная, повтор той же операции бессмысленен
		return api.PushResult{
			ID:        op.ID,
			Status:    api.StatusError,
			ErrorKind: api.ErrorKindPermanent,
			Message:   msg,
		}
	}

	pending := &models.PendingOperation{
		CreatedAt:    op.CreatedAt,
		ID:           op.ID,
		Kind:         models.OperationKind(op.Kind),
		Collection:   op.Collection,
		EntityID:     op.EntityID,
		DeviceID:     deviceID,
		Payload:      op.Payload,
		BaseRevision: op.BaseRevision,
	}

	outcome, err := h.storage.Apply(r.Context(), pending)
	if err != nil {
		h.logger.Error("Failed to apply operation", "operation_id", op.ID, "error", err)
		return api.PushResult{
			ID:        op.ID,
			Status:    api.StatusError,
			ErrorKind: api.ErrorKindTransient,
			Message:   "storage temporarily unavailable",
		}
	}

	switch {
	case outcome.Conflict:
		h.logger.Info("Operation conflict",
			"operation_id", op.ID,
			"collection", op.Collection,
			"entity_id", op.EntityID,
			"base_revision", op.BaseRevision,
			"server_revision", outcome.Record.Revision,
		)
		serverRecord := recordToAPI(outcome.Record)
		return api.PushResult{
			ID:           op.ID,
			Status:       api.StatusConflict,
			ServerRecord: &serverRecord,
		}
	case outcome.Duplicate:
		// Повторная доставка уже примененной операции
		result := api.PushResult{ID: op.ID, Status: api.StatusSuccess}
		if outcome.Record != nil {
			result.Revision = outcome.Record.Revision
		}
		return result
	default:
		return api.PushResult{
			ID:       op.ID,
			Status:   api.StatusSuccess,
			Revision: outcome.Record.Revision,
		}
	}
}

// HandlePull обрабатывает GET /api/v1/sync/pull?since=N
func (h *SyncHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	records, watermark, err := h.storage.ChangesSince(r.Context(), since)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "storage_error", "failed to read changes")
		return
	}

	changes := make([]api.Change, 0, len(records))
	for _, record := range records {
		changes = append(changes, api.Change{
			Record:     recordToAPI(record),
			Collection: record.Collection,
			ID:         record.ID,
			Revision:   record.Revision,
		})
	}

	writeJSON(w, http.StatusOK, api.PullResponse{Changes: changes, Watermark: watermark})
}

// HandleResolve обрабатывает POST /api/v1/sync/conflicts/{id}/resolve.
// use_server возвращает текущую серверную версию, use_client и merge
// фиксируют присланный документ новой ревизией.
func (h *SyncHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")
	if entityID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "entity id is required")
		return
	}

	var req api.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "failed to decode request body")
		return
	}

	if req.Collection == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "collection is required")
		return
	}

	resolution := models.Resolution(req.Resolution)
	if !resolution.Valid() {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "unknown resolution "+req.Resolution)
		return
	}

	var (
		record *models.EntityRecord
		err    error
	)

	switch resolution {
	case models.ResolutionUseServer:
		record, err = h.storage.Get(r.Context(), req.Collection, entityID)
		if errors.Is(err, storage.ErrEntityNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "not_found", "entity not found")
			return
		}
	default:
		if len(req.ResolvedPayload) == 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "resolved_payload is required")
			return
		}
		record, err = h.storage.ForceWrite(r.Context(), &models.EntityRecord{
			Collection: req.Collection,
			ID:         entityID,
			Payload:    req.ResolvedPayload,
		})
	}
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "storage_error", "failed to resolve conflict")
		return
	}

	h.logger.Info("Conflict resolved",
		"collection", req.Collection,
		"entity_id", entityID,
		"resolution", req.Resolution,
		"revision", record.Revision,
	)

	writeJSON(w, http.StatusOK, api.ResolveResponse{Record: recordToAPI(record)})
}

// validateOperation возвращает описание ошибки валидации или пустую строку
func validateOperation(op *api.PushOperation) string {
	switch {
	case op.ID == "":
		return "operation id is required"
	case op.Collection == "":
		return "collection is required"
	case op.EntityID == "":
		return "entity id is required"
	case !models.OperationKind(op.Kind).Valid():
		return "unknown operation kind " + op.Kind
	case op.Kind != string(models.OpDelete) && len(op.Payload) == 0:
		return "payload is required for " + op.Kind
	case op.BaseRevision < 0:
		return "base revision must be non-negative"
	}
	return ""
}

// recordToAPI преобразует запись хранилища в wire формат
func recordToAPI(record *models.EntityRecord) api.Record {
	return api.Record{
		UpdatedAt:  record.UpdatedAt,
		Collection: record.Collection,
		ID:         record.ID,
		Payload:    record.Payload,
		Revision:   record.Revision,
		Deleted:    record.Deleted,
	}
}
