package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
	"github.com/ivmalkov/fieldsync/pkg/api"
)

// CycleReport итоги одного цикла синхронизации
type CycleReport struct {
	Started           time.Time
	Duration          time.Duration
	Coalesced         bool // вызов схлопнут в rerun выполняющегося цикла, остальные поля пусты
	Pushed            int // операций отправлено на сервер
	Succeeded         int // операций подтверждено и снято с очереди
	ConflictsResolved int // конфликтов разрешено автоматической политикой
	ConflictsOpen     int // конфликтов поднято наверх для ручного решения
	TransientFailures int // операций отложено до следующего цикла
	DeadLettered      int // операций снято с повторов окончательно
	Pulled            int // изменений получено с сервера
	Merged            int // изменений применено к локальному хранилищу
	Deferred          int // изменений отложено из-за незавершенных локальных операций
	Watermark         int64
}

// RunCycle выполняет один цикл синхронизации: push фаза, затем pull фаза,
// затем продвижение watermark. Метод single-flight: вызов во время
// выполняющегося цикла лишь помечает "выполнить еще раз" и сразу возвращает
// отчет с Coalesced = true. Неуспешный цикл оставляет watermark и очередь
// нетронутыми.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	e.mu.Lock()
	if e.running {
		e.rerun = true
		e.mu.Unlock()
		e.logger.Debug("sync cycle already running, rerun scheduled")
		return &CycleReport{Coalesced: true}, nil
	}
	e.running = true
	e.mu.Unlock()

	var (
		report *CycleReport
		err    error
	)

	for {
		report, err = e.runOnce(ctx)

		e.mu.Lock()
		if e.rerun && err == nil {
			e.rerun = false
			e.mu.Unlock()
			continue
		}
		e.rerun = false
		e.running = false
		e.mu.Unlock()

		return report, err
	}
}

func (e *Engine) runOnce(ctx context.Context) (*CycleReport, error) {
	if e.network != nil && !e.network.IsOnline() {
		return nil, ErrOffline
	}

	cctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelCycle = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancelCycle = nil
		e.mu.Unlock()
		e.setState(StateIdle)
	}()

	report := &CycleReport{Started: e.now()}

	e.setState(StatePushing)
	if err := e.pushPhase(cctx, report); err != nil {
		return report, fmt.Errorf("push phase: %w", err)
	}

	e.setState(StatePulling)
	if err := e.pullPhase(cctx, report); err != nil {
		return report, fmt.Errorf("pull phase: %w", err)
	}

	report.Duration = e.now().Sub(report.Started)
	e.logger.Info("sync cycle completed",
		"pushed", report.Pushed,
		"succeeded", report.Succeeded,
		"conflicts_open", report.ConflictsOpen,
		"conflicts_resolved", report.ConflictsResolved,
		"transient_failures", report.TransientFailures,
		"dead_lettered", report.DeadLettered,
		"pulled", report.Pulled,
		"merged", report.Merged,
		"deferred", report.Deferred,
		"watermark", report.Watermark)

	e.notifyChange()
	return report, nil
}

// pushPhase отправляет подходящие операции очереди и обрабатывает
// по-операционные результаты
func (e *Engine) pushPhase(ctx context.Context, report *CycleReport) error {
	batch, err := e.queue.PendingBatch(ctx, e.cfg.BatchLimit)
	if err != nil {
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to read pending batch: %w", err)
	}

	if len(batch) == 0 {
		return nil
	}

	now := e.now()
	blocked := make(map[string]bool)
	sent := make(map[string]bool)
	chained := false
	eligible := make([]*models.PendingOperation, 0, len(batch))

	for _, op := range batch {
		key := entityKey(op.Collection, op.EntityID)

		// Пропуск более ранней операции сущности блокирует и все последующие:
		// порядок применения на сервере должен совпадать с порядком создания
		if blocked[key] {
			continue
		}

		// В пакет попадает не более одной операции на сущность: базовая
		// ревизия следующей становится известна только из результата первой
		if sent[key] {
			chained = true
			continue
		}

		if e.hasOpenConflict(op.EntityID) {
			blocked[key] = true
			continue
		}

		if at, ok := e.retryAt(op.ID); ok && now.Before(at) {
			blocked[key] = true
			continue
		}

		eligible = append(eligible, op)
		sent[key] = true
	}

	if len(eligible) == 0 {
		return nil
	}

	req := api.PushRequest{Operations: make([]api.PushOperation, 0, len(eligible))}
	for _, op := range eligible {
		req.Operations = append(req.Operations, api.PushOperation{
			CreatedAt:    op.CreatedAt,
			ID:           op.ID,
			Kind:         string(op.Kind),
			Collection:   op.Collection,
			EntityID:     op.EntityID,
			DeviceID:     op.DeviceID,
			Payload:      op.Payload,
			BaseRevision: op.BaseRevision,
		})
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp, err := e.apiClient.Push(pctx, e.cfg.Token, req)
	if err != nil {
		// Endpoint недоступен: очередь не трогаем, повтор на следующем триггере
		return fmt.Errorf("push transport failed: %w", err)
	}

	report.Pushed = len(eligible)

	results := make(map[string]api.PushResult, len(resp.Results))
	for _, res := range resp.Results {
		results[res.ID] = res
	}

	for _, op := range eligible {
		res, ok := results[op.ID]
		if !ok {
			// Сервер не вернул результат операции - считаем transient
			if err := e.handleTransient(ctx, op, "no result from server", report); err != nil {
				return err
			}
			continue
		}

		var handleErr error
		switch res.Status {
		case api.StatusSuccess:
			handleErr = e.handleSuccess(ctx, op, res, report)
		case api.StatusConflict:
			handleErr = e.handleConflict(ctx, op, res, report)
		case api.StatusError:
			if res.ErrorKind == api.ErrorKindPermanent {
				handleErr = e.moveToDeadLetter(ctx, op, "permanent: "+res.Message, report)
			} else {
				handleErr = e.handleTransient(ctx, op, res.Message, report)
			}
		default:
			handleErr = e.handleTransient(ctx, op, "unknown result status "+res.Status, report)
		}

		if handleErr != nil {
			return handleErr
		}
	}

	// Цепочка операций одной сущности досылается немедленным повтором цикла
	if chained {
		e.mu.Lock()
		e.rerun = true
		e.mu.Unlock()
	}

	return nil
}

// handleSuccess фиксирует подтвержденную операцию: серверная ревизия
// становится авторитетной, операция снимается с очереди
func (e *Engine) handleSuccess(ctx context.Context, op *models.PendingOperation, res api.PushResult, report *CycleReport) error {
	e.writeMu.Lock()

	if res.Revision > 0 {
		record, err := e.entities.Read(ctx, op.Collection, op.EntityID)
		switch {
		case err == nil:
			record.Revision = res.Revision
			if op.Kind == models.OpDelete {
				record.Deleted = true
			}
			if err := e.entities.WriteOne(ctx, record); err != nil {
				e.writeMu.Unlock()
				e.setStorageHealthy(false)
				return fmt.Errorf("failed to update entity revision: %w", err)
			}
		case errors.Is(err, storage.ErrEntityNotFound):
			// Запись могла быть удалена локально; ничего не обновляем
		default:
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to read entity: %w", err)
		}

		// Последующие операции сущности не должны конфликтовать сами с собой
		if err := e.queue.UpdateBaseRevision(ctx, op.Collection, op.EntityID, res.Revision); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to update base revision: %w", err)
		}
	}

	if err := e.queue.MarkResolved(ctx, op.ID); err != nil {
		e.writeMu.Unlock()
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to mark operation resolved: %w", err)
	}

	e.writeMu.Unlock()

	e.setStorageHealthy(true)
	e.clearRetryState(op.ID)
	report.Succeeded++

	e.logger.Debug("operation acknowledged",
		"op_id", op.ID,
		"collection", op.Collection,
		"entity_id", op.EntityID,
		"revision", res.Revision)

	return e.applyDeferred(ctx, op.Collection, op.EntityID)
}

// handleConflict строит ConflictRecord и либо разрешает его автоматической
// политикой коллекции, либо поднимает наверх. Операция при ручном разрешении
// остается в очереди и блокирует последующие операции сущности.
func (e *Engine) handleConflict(ctx context.Context, op *models.PendingOperation, res api.PushResult, report *CycleReport) error {
	if res.ServerRecord == nil {
		return e.handleTransient(ctx, op, "conflict without server record", report)
	}

	server := recordFromAPI(res.ServerRecord)

	local, err := e.entities.Read(ctx, op.Collection, op.EntityID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrEntityNotFound):
		// Восстанавливаем локальную версию из самой операции
		local = &models.EntityRecord{
			UpdatedAt:  op.CreatedAt,
			Collection: op.Collection,
			ID:         op.EntityID,
			Payload:    op.Payload,
			Revision:   op.BaseRevision,
			Deleted:    op.Kind == models.OpDelete,
		}
	default:
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to read entity: %w", err)
	}

	conflict := e.resolver.Detect(local, server, op.BaseRevision)
	if conflict == nil {
		// По ревизиям расхождения нет: принимаем серверную версию и
		// снимаем операцию как устаревшую
		e.writeMu.Lock()
		if err := e.entities.WriteOne(ctx, server); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to adopt server record: %w", err)
		}
		if err := e.queue.MarkResolved(ctx, op.ID); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to mark operation resolved: %w", err)
		}
		e.writeMu.Unlock()
		e.clearRetryState(op.ID)
		report.Succeeded++
		return nil
	}

	conflict.OperationID = op.ID

	if policy, ok := e.resolver.PolicyFor(op.Collection); ok && policy.Resolution != "" {
		if err := e.applyResolution(ctx, conflict, policy.Resolution, policy.Merge, nil); err != nil {
			e.logger.Warn("automatic conflict resolution failed, surfacing conflict",
				"collection", op.Collection,
				"entity_id", op.EntityID,
				"error", err)
		} else {
			report.ConflictsResolved++
			return nil
		}
	}

	// Ручное разрешение: не более одного открытого конфликта на сущность
	surfaced := false
	e.mu.Lock()
	if _, exists := e.conflicts[op.EntityID]; !exists {
		e.conflicts[op.EntityID] = conflict
		surfaced = true
	}
	cb := e.onConflict
	e.mu.Unlock()

	if surfaced {
		report.ConflictsOpen++
		e.logger.Info("conflict requires manual resolution",
			"collection", op.Collection,
			"entity_id", op.EntityID,
			"base_revision", op.BaseRevision,
			"server_revision", server.Revision)
		if cb != nil {
			cb(conflict)
		}
	}

	return nil
}

// handleTransient откладывает операцию до следующего цикла либо переводит
// в dead-letter при исчерпании повторов
func (e *Engine) handleTransient(ctx context.Context, op *models.PendingOperation, msg string, report *CycleReport) error {
	count, err := e.queue.RecordFailure(ctx, op.ID)
	if err != nil {
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to record operation failure: %w", err)
	}

	if count > e.cfg.MaxRetries {
		return e.moveToDeadLetter(ctx, op, fmt.Sprintf("retry limit exceeded after %d attempts: %s", count, msg), report)
	}

	delay := e.nextBackoff(op.ID)
	e.mu.Lock()
	e.nextAttempt[op.ID] = e.now().Add(delay)
	e.mu.Unlock()

	report.TransientFailures++
	e.logger.Warn("operation failed transiently, will retry",
		"op_id", op.ID,
		"retry_count", count,
		"next_attempt_in", delay,
		"message", msg)

	return nil
}

// moveToDeadLetter окончательно снимает операцию с повторов и поднимает
// ее наверх ровно один раз
func (e *Engine) moveToDeadLetter(ctx context.Context, op *models.PendingOperation, reason string, report *CycleReport) error {
	if err := e.queue.MarkResolved(ctx, op.ID); err != nil {
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to remove dead-lettered operation: %w", err)
	}

	e.clearRetryState(op.ID)

	dl := DeadLetter{At: e.now(), Reason: reason, Op: op.Clone()}

	e.mu.Lock()
	e.deadLetters = append(e.deadLetters, dl)
	cb := e.onDeadLetter
	e.mu.Unlock()

	report.DeadLettered++
	e.logger.Error("operation dead-lettered",
		"op_id", op.ID,
		"collection", op.Collection,
		"entity_id", op.EntityID,
		"reason", reason)

	if cb != nil {
		cb(dl)
	}

	// Сущность больше не заблокирована этой операцией
	return e.applyDeferred(ctx, op.Collection, op.EntityID)
}

// pullPhase забирает серверные изменения с ревизией больше lastSync и
// вливает их в локальное хранилище. Watermark продвигается только после
// полностью успешной фазы.
func (e *Engine) pullPhase(ctx context.Context, report *CycleReport) error {
	since, err := e.meta.LastSync(ctx)
	if err != nil {
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to read last sync watermark: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp, err := e.apiClient.Pull(pctx, e.cfg.Token, since)
	if err != nil {
		// Watermark не продвигаем: следующий pull заберет те же изменения
		return fmt.Errorf("pull transport failed: %w", err)
	}

	report.Pulled = len(resp.Changes)

	byCollection := make(map[string][]*models.EntityRecord)

	// Минимальная ревизия среди отложенных изменений этого цикла:
	// watermark не должен перешагнуть непримененное изменение
	var deferredFloor int64

	for i := range resp.Changes {
		change := &resp.Changes[i]
		record := recordFromAPI(&change.Record)

		// Изменение сущности с незавершенной локальной операцией или
		// открытым конфликтом откладывается, чтобы не затереть in-flight
		// локальное изменение
		if e.hasOpenConflict(change.ID) {
			e.deferChange(record)
			report.Deferred++
			if deferredFloor == 0 || record.Revision < deferredFloor {
				deferredFloor = record.Revision
			}
			continue
		}

		pending, err := e.queue.HasPending(ctx, change.Collection, change.ID)
		if err != nil {
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to check pending operations: %w", err)
		}
		if pending {
			e.deferChange(record)
			report.Deferred++
			if deferredFloor == 0 || record.Revision < deferredFloor {
				deferredFloor = record.Revision
			}
			continue
		}

		byCollection[change.Collection] = append(byCollection[change.Collection], record)
	}

	e.writeMu.Lock()
	for collection, records := range byCollection {
		if err := e.entities.WriteAll(ctx, collection, records); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to merge pulled records: %w", err)
		}
		report.Merged += len(records)
	}
	e.writeMu.Unlock()

	// Отложенные изменения живут только в памяти. Watermark упирается в
	// ревизию перед самым ранним из них, чтобы после рестарта процесса
	// следующий pull забрал их заново.
	target := resp.Watermark
	if deferredFloor > 0 && deferredFloor-1 < target {
		target = deferredFloor - 1
	}

	// Монотонность: watermark никогда не убывает
	if target > since {
		if err := e.meta.SaveLastSync(ctx, target); err != nil {
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to save last sync watermark: %w", err)
		}
		report.Watermark = target
	} else {
		report.Watermark = since
	}

	e.setStorageHealthy(true)
	return nil
}

// applyResolution завершает конфликт: сообщает решение серверу, записывает
// итоговую версию локально и снимает заблокированную операцию с очереди
func (e *Engine) applyResolution(ctx context.Context, conflict *models.ConflictRecord, resolution models.Resolution, mergeFn models.MergeFunc, payloadOverride []byte) (err error) {
	var resolved *models.EntityRecord

	if resolution == models.ResolutionMerge && len(payloadOverride) > 0 {
		// Вызывающий уже объединил версии сам
		resolved = conflict.ServerVersion.Clone()
		resolved.Payload = payloadOverride
		resolved.Deleted = false
		conflict.Resolution = resolution
		conflict.ResolvedPayload = payloadOverride
	} else {
		resolved, err = e.resolver.Resolve(conflict, resolution, mergeFn)
		if err != nil {
			return err
		}
	}

	// use_server не меняет сервер, остальные решения фиксируются на нем
	if resolution != models.ResolutionUseServer {
		rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		resp, resolveErr := e.apiClient.Resolve(rctx, e.cfg.Token, conflict.EntityID, api.ResolveRequest{
			OperationID:     conflict.OperationID,
			Collection:      conflict.Collection,
			Resolution:      string(resolution),
			ResolvedPayload: resolved.Payload,
		})
		cancel()
		if resolveErr != nil {
			// Конфликт остается открытым
			return fmt.Errorf("failed to resolve conflict on server: %w", resolveErr)
		}
		resolved.Revision = resp.Record.Revision
		resolved.UpdatedAt = resp.Record.UpdatedAt
	}

	e.writeMu.Lock()
	if err := e.entities.WriteOne(ctx, resolved); err != nil {
		e.writeMu.Unlock()
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to write resolved record: %w", err)
	}
	if conflict.OperationID != "" {
		if err := e.queue.MarkResolved(ctx, conflict.OperationID); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to mark operation resolved: %w", err)
		}
		if err := e.queue.UpdateBaseRevision(ctx, conflict.Collection, conflict.EntityID, resolved.Revision); err != nil {
			e.writeMu.Unlock()
			e.setStorageHealthy(false)
			return fmt.Errorf("failed to update base revision: %w", err)
		}
	}
	e.writeMu.Unlock()

	e.setStorageHealthy(true)
	e.clearRetryState(conflict.OperationID)

	e.mu.Lock()
	delete(e.conflicts, conflict.EntityID)
	e.mu.Unlock()

	e.logger.Info("conflict resolved",
		"collection", conflict.Collection,
		"entity_id", conflict.EntityID,
		"resolution", resolution)

	if err := e.applyDeferred(ctx, conflict.Collection, conflict.EntityID); err != nil {
		return err
	}

	e.notifyChange()
	return nil
}

// applyDeferred вливает отложенное серверное изменение сущности, если ее
// больше ничто не блокирует
func (e *Engine) applyDeferred(ctx context.Context, collection, entityID string) error {
	key := entityKey(collection, entityID)

	e.mu.Lock()
	record, ok := e.deferred[key]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	if e.hasOpenConflict(entityID) {
		return nil
	}

	pending, err := e.queue.HasPending(ctx, collection, entityID)
	if err != nil {
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to check pending operations: %w", err)
	}
	if pending {
		return nil
	}

	e.writeMu.Lock()
	if err := e.entities.WriteOne(ctx, record); err != nil {
		e.writeMu.Unlock()
		e.setStorageHealthy(false)
		return fmt.Errorf("failed to apply deferred record: %w", err)
	}
	e.writeMu.Unlock()

	e.mu.Lock()
	delete(e.deferred, key)
	e.mu.Unlock()

	e.logger.Debug("deferred server change applied",
		"collection", collection,
		"entity_id", entityID)

	return nil
}

func (e *Engine) deferChange(record *models.EntityRecord) {
	key := entityKey(record.Collection, record.ID)

	e.mu.Lock()
	// Более поздняя серверная версия вытесняет отложенную раннюю
	if existing, ok := e.deferred[key]; !ok || record.IsNewerThan(existing) {
		e.deferred[key] = record
	}
	e.mu.Unlock()
}

func (e *Engine) hasOpenConflict(entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conflicts[entityID]
	return ok
}

func (e *Engine) retryAt(opID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.nextAttempt[opID]
	return at, ok
}

// nextBackoff возвращает следующую задержку экспоненциальной
// последовательности операции
func (e *Engine) nextBackoff(opID string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.backoffs[opID]
	if !ok {
		b = retry.WithCappedDuration(e.cfg.BackoffCap, retry.NewExponential(e.cfg.BackoffBase))
		e.backoffs[opID] = b
	}

	delay, _ := b.Next()
	return delay
}

func (e *Engine) clearRetryState(opID string) {
	if opID == "" {
		return
	}
	e.mu.Lock()
	delete(e.backoffs, opID)
	delete(e.nextAttempt, opID)
	e.mu.Unlock()
}

func entityKey(collection, entityID string) string {
	return collection + "/" + entityID
}

// recordFromAPI конвертирует wire-представление в доменную запись
func recordFromAPI(r *api.Record) *models.EntityRecord {
	payload := make([]byte, len(r.Payload))
	copy(payload, r.Payload)

	return &models.EntityRecord{
		UpdatedAt:  r.UpdatedAt,
		Collection: r.Collection,
		ID:         r.ID,
		Payload:    payload,
		Revision:   r.Revision,
		Deleted:    r.Deleted,
	}
}
